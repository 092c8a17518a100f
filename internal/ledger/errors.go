package ledger

import "golang.org/x/xerrors"

// Sentinel errors shared by the ledger and unlock services. The API layer
// maps these onto HTTP status codes.
var (
	// ErrNotFound means the user ID is unknown; clients must reinitialize.
	ErrNotFound = xerrors.New("user not found")
	// ErrValidation means malformed input, rejected before any state change.
	ErrValidation = xerrors.New("invalid input")
	// ErrPrecondition means the operation needs configuration the user lacks.
	ErrPrecondition = xerrors.New("precondition failed")
	// ErrForbidden means a missing, expired or mismatched unlock code.
	ErrForbidden = xerrors.New("forbidden")
)
