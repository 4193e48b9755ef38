package main

import (
	"net/http"
	"strconv"

	"icrc7-ledger/internal/domain"
)

// approvalInfoJSON is the wire form of a domain.ApprovalInfo.
type approvalInfoJSON struct {
	Spender       accountJSON `json:"spender"`
	ExpiresAt     *uint64     `json:"expires_at"`
	CreatedAtTime *uint64     `json:"created_at_time"`
	Memo          []byte      `json:"memo"`
}

func (j *approvalInfoJSON) toInfo() (domain.ApprovalInfo, error) {
	spender, err := j.Spender.toAccount()
	if err != nil {
		return domain.ApprovalInfo{}, err
	}
	return domain.ApprovalInfo{
		Spender:       spender,
		ExpiresAt:     j.ExpiresAt,
		CreatedAtTime: j.CreatedAtTime,
		Memo:          j.Memo,
	}, nil
}

func (a *API) handleApproveTokens(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []struct {
		TokenID      uint64           `json:"token_id"`
		ApprovalInfo approvalInfoJSON `json:"approval_info"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	args := make([]domain.ApproveTokenArg, len(req))
	for i, item := range req {
		info, err := item.ApprovalInfo.toInfo()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid spender: "+err.Error())
			return
		}
		args[i] = domain.ApproveTokenArg{TokenID: item.TokenID, ApprovalInfo: info}
	}

	results, err := a.engine.ApproveTokens(r.Context(), caller, args)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleApproveCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []approvalInfoJSON
	if !a.decode(w, r, &req) {
		return
	}

	args := make([]domain.ApprovalInfo, len(req))
	for i, item := range req {
		info, err := item.toInfo()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid spender: "+err.Error())
			return
		}
		args[i] = info
	}

	results, err := a.engine.ApproveCollection(r.Context(), caller, args)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleRevokeTokenApprovals(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []struct {
		TokenID       uint64       `json:"token_id"`
		Spender       *accountJSON `json:"spender"`
		Memo          []byte       `json:"memo"`
		CreatedAtTime *uint64      `json:"created_at_time"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	args := make([]domain.RevokeTokenApprovalArg, len(req))
	for i, item := range req {
		spender, ok := a.optionalAccount(w, item.Spender)
		if !ok {
			return
		}
		args[i] = domain.RevokeTokenApprovalArg{
			TokenID:       item.TokenID,
			Spender:       spender,
			Memo:          item.Memo,
			CreatedAtTime: item.CreatedAtTime,
		}
	}

	results, err := a.engine.RevokeTokenApprovals(r.Context(), caller, args)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleRevokeCollectionApprovals(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []struct {
		Spender       *accountJSON `json:"spender"`
		Memo          []byte       `json:"memo"`
		CreatedAtTime *uint64      `json:"created_at_time"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	args := make([]domain.RevokeCollectionApprovalArg, len(req))
	for i, item := range req {
		spender, ok := a.optionalAccount(w, item.Spender)
		if !ok {
			return
		}
		args[i] = domain.RevokeCollectionApprovalArg{
			Spender:       spender,
			Memo:          item.Memo,
			CreatedAtTime: item.CreatedAtTime,
		}
	}

	results, err := a.engine.RevokeCollectionApprovals(r.Context(), caller, args)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []struct {
		From          accountJSON `json:"from"`
		To            accountJSON `json:"to"`
		TokenID       uint64      `json:"token_id"`
		Memo          []byte      `json:"memo"`
		CreatedAtTime *uint64     `json:"created_at_time"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	requests := make([]domain.TransferFromRequest, len(req))
	for i, item := range req {
		from, err := item.From.toAccount()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid source: "+err.Error())
			return
		}
		to, err := item.To.toAccount()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid recipient: "+err.Error())
			return
		}
		requests[i] = domain.TransferFromRequest{
			From:          from,
			To:            to,
			TokenID:       item.TokenID,
			Memo:          item.Memo,
			CreatedAtTime: item.CreatedAtTime,
		}
	}

	results, err := a.engine.TransferFrom(r.Context(), caller, requests)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, renderResults(results))
}

func (a *API) handleIsApproved(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req []struct {
		Spender accountJSON `json:"spender"`
		TokenID uint64      `json:"token_id"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	args := make([]domain.IsApprovedArg, len(req))
	for i, item := range req {
		spender, err := item.Spender.toAccount()
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid spender: "+err.Error())
			return
		}
		args[i] = domain.IsApprovedArg{Spender: spender, TokenID: item.TokenID}
	}

	res, err := a.engine.IsApproved(r.Context(), caller, args)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, res)
}

// approvalJSON is the wire form of a domain.Approval.
type approvalJSON struct {
	TokenID   uint64 `json:"token_id,omitempty"`
	Spender   string `json:"spender"`
	ExpiresAt uint64 `json:"expires_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func (a *API) handleTokenApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("token_id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid token_id")
		return
	}

	grants, err := a.engine.TokenApprovals(r.Context(), id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}

	out := make([]approvalJSON, len(grants))
	for i, grant := range grants {
		out[i] = approvalJSON{
			TokenID:   grant.TokenID,
			Spender:   grant.Approval.Spender.String(),
			ExpiresAt: grant.Approval.ExpiresAt,
			CreatedAt: grant.Approval.CreatedAt,
		}
	}
	a.writeJSON(w, out)
}

func (a *API) handleCollectionApprovals(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParsePrincipal(r.URL.Query().Get("owner"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid owner: "+err.Error())
		return
	}

	grants, err := a.engine.CollectionApprovals(r.Context(), owner)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}

	out := make([]approvalJSON, len(grants))
	for i, grant := range grants {
		out[i] = approvalJSON{
			Spender:   grant.Spender.String(),
			ExpiresAt: grant.ExpiresAt,
			CreatedAt: grant.CreatedAt,
		}
	}
	a.writeJSON(w, out)
}

// optionalAccount parses a nullable account argument.
func (a *API) optionalAccount(w http.ResponseWriter, j *accountJSON) (*domain.Account, bool) {
	if j == nil {
		return nil, true
	}
	account, err := j.toAccount()
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid spender: "+err.Error())
		return nil, false
	}
	return &account, true
}
