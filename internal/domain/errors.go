package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("invalid request")
	ErrConflict     = errors.New("conflict")
	ErrConnectivity = errors.New("store unavailable")
)

var (
	ErrSessionNotFound = newKindError(ErrNotFound, "session not found")
	ErrGroupNotFound   = newKindError(ErrNotFound, "group not found")

	ErrEmptyName          = newKindError(ErrValidation, "name is required")
	ErrSessionInactive    = newKindError(ErrValidation, "session is not active")
	ErrTooFewParticipants = newKindError(ErrValidation, "at least 3 participants are required to start the task")
	ErrNotGroupMember     = newKindError(ErrValidation, "participant is not a member of the group")
	ErrUnknownCandidate   = newKindError(ErrValidation, "unknown candidate")
	ErrGroupNotReady      = newKindError(ErrValidation, "not every group member is ready")
	ErrDecisionMissing    = newKindError(ErrValidation, "group decision has not been submitted")
	ErrApprovalPending    = newKindError(ErrValidation, "group decision is awaiting unanimous approval")
	ErrUnknownInfoItem    = newKindError(ErrValidation, "unknown information item")
	ErrIncompleteRatings  = newKindError(ErrValidation, "every information item must be rated")
	ErrRatingOutOfRange   = newKindError(ErrValidation, "rating out of range")
	ErrConfirmationNeeded = newKindError(ErrValidation, "deleting all data requires explicit confirmation")

	ErrTaskAlreadyStarted = newKindError(ErrConflict, "task already started for session")
	ErrAlreadySubmitted   = newKindError(ErrConflict, "a different value was already submitted")
	ErrChoicesFrozen      = newKindError(ErrConflict, "individual choices are frozen once the whole group is ready")
	ErrDecisionFinalized  = newKindError(ErrConflict, "group decision is already finalized")
	ErrVersionConflict    = newKindError(ErrConflict, "group was modified concurrently")
)

type kindError struct {
	kind error
	msg  string
}

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.kind
}

// Kind reports the error class of err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrConnectivity} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}
