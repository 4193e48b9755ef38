package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/feed"
	"icrc7-ledger/internal/ledger"
	"icrc7-ledger/internal/observability"
	"icrc7-ledger/internal/storage"
)

// callerHeader carries the authenticated caller principal, set by the
// authentication layer in front of this service.
const callerHeader = "X-Ledger-Principal"

// API serves the ledger's HTTP JSON surface.
type API struct {
	engine *ledger.Engine
	hub    *feed.Hub
	logger *log.Logger
}

// NewAPI wires the HTTP surface.
func NewAPI(engine *ledger.Engine, hub *feed.Hub, logger *log.Logger) *API {
	return &API{engine: engine, hub: hub, logger: logger}
}

// Routes registers every endpoint on a fresh mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Mutations.
	mux.HandleFunc("POST /ledger/create_token", a.handleCreateToken)
	mux.HandleFunc("POST /ledger/mint", a.handleMint)
	mux.HandleFunc("POST /ledger/update_token", a.handleUpdateToken)
	mux.HandleFunc("POST /ledger/burn", a.handleBurn)
	mux.HandleFunc("POST /ledger/update_collection", a.handleUpdateCollection)
	mux.HandleFunc("POST /ledger/set_minters", a.handleSetMinters)
	mux.HandleFunc("POST /ledger/set_managers", a.handleSetManagers)
	mux.HandleFunc("POST /icrc7/transfer", a.handleTransfer)

	// Approvals.
	mux.HandleFunc("POST /icrc37/approve_tokens", a.handleApproveTokens)
	mux.HandleFunc("POST /icrc37/approve_collection", a.handleApproveCollection)
	mux.HandleFunc("POST /icrc37/revoke_token_approvals", a.handleRevokeTokenApprovals)
	mux.HandleFunc("POST /icrc37/revoke_collection_approvals", a.handleRevokeCollectionApprovals)
	mux.HandleFunc("POST /icrc37/transfer_from", a.handleTransferFrom)
	mux.HandleFunc("POST /icrc37/is_approved", a.handleIsApproved)
	mux.HandleFunc("GET /icrc37/token_approvals", a.handleTokenApprovals)
	mux.HandleFunc("GET /icrc37/collection_approvals", a.handleCollectionApprovals)
	mux.HandleFunc("GET /icrc37/max_approvals_per_token_or_collection", a.scalarHandler(func(c domain.Collection) any { return c.Settings.MaxApprovalsPerTokenOrCollection }))
	mux.HandleFunc("GET /icrc37/max_revoke_approvals", a.scalarHandler(func(c domain.Collection) any { return c.Settings.MaxRevokeApprovals }))

	// Batch queries.
	mux.HandleFunc("POST /icrc7/owner_of", a.handleOwnerOf)
	mux.HandleFunc("POST /icrc7/balance_of", a.handleBalanceOf)
	mux.HandleFunc("GET /icrc7/tokens", a.handleTokens)
	mux.HandleFunc("GET /icrc7/tokens_of", a.handleTokensOf)
	mux.HandleFunc("POST /icrc7/token_metadata", a.handleTokenMetadata)

	// Scalar getters.
	mux.HandleFunc("GET /icrc7/total_supply", a.handleTotalSupply)
	mux.HandleFunc("GET /icrc7/collection_metadata", a.handleCollectionMetadata)
	mux.HandleFunc("GET /icrc7/supply_cap", a.scalarHandler(func(c domain.Collection) any { return c.SupplyCap }))
	mux.HandleFunc("GET /icrc7/name", a.scalarHandler(func(c domain.Collection) any { return c.Name }))
	mux.HandleFunc("GET /icrc7/symbol", a.scalarHandler(func(c domain.Collection) any { return c.Symbol }))
	mux.HandleFunc("GET /icrc7/description", a.scalarHandler(func(c domain.Collection) any { return c.Description }))
	mux.HandleFunc("GET /icrc7/logo", a.scalarHandler(func(c domain.Collection) any { return c.Logo }))
	mux.HandleFunc("GET /icrc7/max_memo_size", a.scalarHandler(func(c domain.Collection) any { return c.Settings.MaxMemoSize }))
	mux.HandleFunc("GET /icrc7/tx_window", a.scalarHandler(func(c domain.Collection) any { return c.Settings.TxWindow }))
	mux.HandleFunc("GET /icrc7/permitted_drift", a.scalarHandler(func(c domain.Collection) any { return c.Settings.PermittedDrift }))
	mux.HandleFunc("GET /icrc7/max_query_batch_size", a.scalarHandler(func(c domain.Collection) any { return c.Settings.MaxQueryBatchSize }))
	mux.HandleFunc("GET /icrc7/max_update_batch_size", a.scalarHandler(func(c domain.Collection) any { return c.Settings.MaxUpdateBatchSize }))
	mux.HandleFunc("GET /icrc7/max_take_value", a.scalarHandler(func(c domain.Collection) any { return c.Settings.MaxTakeValue }))
	mux.HandleFunc("GET /icrc7/default_take_value", a.scalarHandler(func(c domain.Collection) any { return c.Settings.DefaultTakeValue }))
	mux.HandleFunc("GET /icrc7/atomic_batch_transfers", a.scalarHandler(func(c domain.Collection) any { return c.Settings.AtomicBatchTransfers }))

	// Transaction history.
	mux.HandleFunc("GET /ledger/transactions", a.handleTransactions)

	// Infrastructure.
	mux.Handle("GET /ws", a.hub)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /health", a.handleHealth)

	return mux
}

// accountJSON is the wire form of a domain.Account.
type accountJSON struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

func renderAccount(a *domain.Account) *accountJSON {
	if a == nil {
		return nil
	}
	out := &accountJSON{Owner: a.Owner.String()}
	if a.Subaccount != nil && *a.Subaccount != domain.DefaultSubaccount {
		out.Subaccount = hex.EncodeToString(a.Subaccount[:])
	}
	return out
}

func (j *accountJSON) toAccount() (domain.Account, error) {
	owner, err := domain.ParsePrincipal(j.Owner)
	if err != nil {
		return domain.Account{}, err
	}
	account := domain.NewAccount(owner)
	if j.Subaccount != "" {
		sub, err := domain.ParseSubaccount(j.Subaccount)
		if err != nil {
			return domain.Account{}, err
		}
		account.Subaccount = sub
	}
	return account, nil
}

// resultJSON is the wire form of one batch item outcome.
type resultJSON struct {
	TokenID uint64 `json:"token_id,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

func renderResults(results []domain.TransferResult) []resultJSON {
	out := make([]resultJSON, len(results))
	for i, res := range results {
		if res.OK() {
			out[i] = resultJSON{TokenID: res.TokenID}
			continue
		}
		out[i].Error = &struct {
			Code    string `json:"code"`
			Message string `json:"message,omitempty"`
		}{Code: string(res.Err.Code), Message: res.Err.Message}
	}
	return out
}

func (a *API) caller(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	text := r.Header.Get(callerHeader)
	if text == "" {
		a.writeError(w, http.StatusUnauthorized, "missing "+callerHeader+" header")
		return nil, false
	}
	p, err := domain.ParsePrincipal(text)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid caller principal: "+err.Error())
		return nil, false
	}
	return p, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Printf("encode response: %v", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps whole-call engine errors onto HTTP statuses.
func (a *API) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrEmptyBatch),
		errors.Is(err, ledger.ErrExceedsMaxUpdateBatchSize),
		errors.Is(err, ledger.ErrExceedsMaxQueryBatchSize),
		errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrAnonymousCaller),
		errors.Is(err, ledger.ErrNotMinter),
		errors.Is(err, ledger.ErrNotManager),
		errors.Is(err, ledger.ErrNotController):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrCapacityExceeded),
		errors.Is(err, ledger.ErrSupplyCapIncrease),
		errors.Is(err, ledger.ErrSupplyCapDecreaseBelowMinted):
		status = http.StatusConflict
	}
	a.writeError(w, status, err.Error())
}

func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
		SupplyCap   *uint64 `json:"supply_cap"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	id, err := a.engine.CreateToken(r.Context(), caller,
		domain.Token{Name: req.Name, Description: req.Description}, req.SupplyCap)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, map[string]uint64{"token_id": id})
}

func (a *API) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		TokenID uint64        `json:"token_id"`
		Holders []accountJSON `json:"holders"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	holders := make([]domain.Account, len(req.Holders))
	for i, h := range req.Holders {
		account, err := h.toAccount()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid holder: "+err.Error())
			return
		}
		holders[i] = account
	}

	results, err := a.engine.Mint(r.Context(), caller, req.TokenID, holders)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []struct {
		To            accountJSON `json:"to"`
		TokenID       uint64      `json:"token_id"`
		Memo          []byte      `json:"memo"`
		CreatedAtTime *uint64     `json:"created_at_time"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	requests := make([]domain.TransferRequest, len(req))
	for i, item := range req {
		to, err := item.To.toAccount()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid recipient: "+err.Error())
			return
		}
		requests[i] = domain.TransferRequest{
			To:            to,
			TokenID:       item.TokenID,
			Memo:          item.Memo,
			CreatedAtTime: item.CreatedAtTime,
		}
	}

	results, err := a.engine.Transfer(r.Context(), caller, requests)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		TokenID     uint64  `json:"token_id"`
		Name        string  `json:"name"`
		Description *string `json:"description"`
		SupplyCap   *uint64 `json:"supply_cap"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	err := a.engine.UpdateToken(r.Context(), caller, req.TokenID,
		domain.Token{Name: req.Name, Description: req.Description}, req.SupplyCap)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, map[string]bool{"ok": true})
}

func (a *API) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		TokenIDs []uint64 `json:"token_ids"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	results, err := a.engine.Burn(r.Context(), caller, req.TokenIDs)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req ledger.UpdateCollectionArg
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.engine.UpdateCollection(r.Context(), caller, req); err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, map[string]bool{"ok": true})
}

func (a *API) handleSetMinters(w http.ResponseWriter, r *http.Request) {
	a.handleSetRole(w, r, a.engine.SetMinters)
}

func (a *API) handleSetManagers(w http.ResponseWriter, r *http.Request) {
	a.handleSetRole(w, r, a.engine.SetManagers)
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request, apply func(context.Context, domain.Principal, []domain.Principal) error) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Principals []string `json:"principals"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	set := make([]domain.Principal, len(req.Principals))
	for i, text := range req.Principals {
		p, err := domain.ParsePrincipal(text)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid principal: "+err.Error())
			return
		}
		set[i] = p
	}

	if err := apply(r.Context(), caller, set); err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, map[string]bool{"ok": true})
}

func (a *API) handleOwnerOf(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenIDs []uint64 `json:"token_ids"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	owners, err := a.engine.OwnerOf(r.Context(), req.TokenIDs)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}

	out := make([]*accountJSON, len(owners))
	for i, owner := range owners {
		out[i] = renderAccount(owner)
	}
	a.writeJSON(w, out)
}

func (a *API) handleBalanceOf(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accounts []accountJSON `json:"accounts"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	accounts := make([]domain.Account, len(req.Accounts))
	for i, item := range req.Accounts {
		account, err := item.toAccount()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid account: "+err.Error())
			return
		}
		accounts[i] = account
	}

	balances, err := a.engine.BalanceOf(r.Context(), accounts)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, balances)
}

func (a *API) handleTokens(w http.ResponseWriter, r *http.Request) {
	start, take, ok := a.pageParams(w, r)
	if !ok {
		return
	}

	ids, err := a.engine.Tokens(r.Context(), start, take)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, ids)
}

func (a *API) handleTokensOf(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParsePrincipal(r.URL.Query().Get("owner"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid owner: "+err.Error())
		return
	}
	account := domain.NewAccount(owner)
	if text := r.URL.Query().Get("subaccount"); text != "" {
		sub, err := domain.ParseSubaccount(text)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid subaccount: "+err.Error())
			return
		}
		account.Subaccount = sub
	}

	start, take, ok := a.pageParams(w, r)
	if !ok {
		return
	}

	ids, err := a.engine.TokensOf(r.Context(), account, start, take)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, ids)
}

func (a *API) handleTokenMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenIDs []uint64 `json:"token_ids"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	metadata, err := a.engine.TokenMetadata(r.Context(), req.TokenIDs)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, metadata)
}

func (a *API) handleTotalSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := a.engine.TotalSupply(r.Context())
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, map[string]uint64{"total_supply": supply})
}

func (a *API) handleCollectionMetadata(w http.ResponseWriter, r *http.Request) {
	metadata, err := a.engine.CollectionMetadata(r.Context())
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, metadata)
}

// scalarHandler serves one collection/settings getter.
func (a *API) scalarHandler(pick func(domain.Collection) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, map[string]any{"value": pick(a.engine.Collection())})
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if text := query.Get("token_id"); text != "" {
		id, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid token_id")
			return
		}
		txs, err := a.engine.TransactionsByToken(r.Context(), id)
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		a.writeTransactions(w, txs)
		return
	}

	start, err := strconv.ParseInt(query.Get("start"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "start and end are required without token_id")
		return
	}
	end, err := strconv.ParseInt(query.Get("end"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid end")
		return
	}

	txs, err := a.engine.TransactionsByTimeRange(r.Context(), start, end)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeTransactions(w, txs)
}

type transactionJSON struct {
	Index     uint64       `json:"index"`
	Timestamp int64        `json:"timestamp"`
	Op        string       `json:"op"`
	TokenID   uint64       `json:"token_id"`
	From      *accountJSON `json:"from,omitempty"`
	To        *accountJSON `json:"to,omitempty"`
	Memo      []byte       `json:"memo,omitempty"`
}

func (a *API) writeTransactions(w http.ResponseWriter, txs []*domain.Transaction) {
	out := make([]transactionJSON, len(txs))
	for i, tx := range txs {
		out[i] = transactionJSON{
			Index:     tx.Index,
			Timestamp: tx.Timestamp,
			Op:        tx.Op,
			TokenID:   tx.TokenID,
			From:      renderAccount(tx.From),
			To:        renderAccount(tx.To),
			Memo:      tx.Memo,
		}
	}
	a.writeJSON(w, out)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, map[string]any{
		"status":           "ok",
		"feed_subscribers": a.hub.Subscribers(),
	})
}

// pageParams parses optional start/take query parameters.
func (a *API) pageParams(w http.ResponseWriter, r *http.Request) (*uint64, *int, bool) {
	query := r.URL.Query()

	var start *uint64
	if text := query.Get("start"); text != "" {
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid start")
			return nil, nil, false
		}
		start = &v
	}

	var take *int
	if text := query.Get("take"); text != "" {
		v, err := strconv.Atoi(text)
		if err != nil || v < 0 {
			a.writeError(w, http.StatusBadRequest, "invalid take")
			return nil, nil, false
		}
		take = &v
	}
	return start, take, true
}
