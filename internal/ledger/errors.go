package ledger

import "errors"

// Whole-call errors. Batch size and authorization problems reject the
// entire call with no partial service; per-item failures are reported as
// domain.TransferResult entries instead.
var (
	// ErrNotFound is returned when a referenced token id does not exist.
	ErrNotFound = errors.New("token not found")

	// ErrEmptyBatch is returned for calls with no entries.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrExceedsMaxUpdateBatchSize rejects oversized mutating batches wholesale.
	ErrExceedsMaxUpdateBatchSize = errors.New("exceeds max update batch size")

	// ErrExceedsMaxQueryBatchSize rejects oversized query batches wholesale.
	ErrExceedsMaxQueryBatchSize = errors.New("exceeds max query batch size")

	// ErrCapacityExceeded is returned when the collection-wide token count
	// limit is reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrSupplyCapDecreaseBelowMinted rejects a cap update below the
	// already minted count.
	ErrSupplyCapDecreaseBelowMinted = errors.New("supply cap below minted count")

	// ErrSupplyCapIncrease rejects raising a supply cap after creation.
	ErrSupplyCapIncrease = errors.New("supply cap can not be increased")

	// ErrAnonymousCaller rejects the anonymous principal on mutations.
	ErrAnonymousCaller = errors.New("anonymous caller is not allowed")

	// ErrNotMinter rejects mints from principals outside the minter set.
	ErrNotMinter = errors.New("caller is not a minter")

	// ErrNotManager rejects token management from principals outside the
	// manager set.
	ErrNotManager = errors.New("caller is not a manager")

	// ErrNotController rejects role changes from principals outside the
	// controller set.
	ErrNotController = errors.New("caller is not a controller")
)
