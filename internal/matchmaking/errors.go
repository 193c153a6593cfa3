package matchmaking

import "errors"

var (
	ErrLobbyNotFound         = errors.New("lobby not found")
	ErrConfirmationNotFound  = errors.New("confirmation not found")
	ErrNotInConfirmation     = errors.New("player is not part of this confirmation")
	ErrConfirmationFinalized = errors.New("confirmation already has a match")
	ErrUnknownMatchType      = errors.New("unknown match type")
)

// ReasonUnknown is shown to players when a join fails for a reason they cannot fix.
const ReasonUnknown = "Unknown Error"

// QueueError is a join-queue failure that should be reported to PlayerIDs as a
// matchmaking:error event carrying Reason.
type QueueError struct {
	Reason    string
	PlayerIDs []string
	Err       error
}

func (e *QueueError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *QueueError) Unwrap() error {
	return e.Err
}
