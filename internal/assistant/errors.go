package assistant

import "errors"

var (
	// ErrTurnInFlight is returned when the session already has a running turn.
	ErrTurnInFlight = errors.New("a reply is already being generated for this session")
	// ErrEmptyResponse means the model finished without any text.
	ErrEmptyResponse     = errors.New("empty response from model")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrPersistFailed     = errors.New("failed to save conversation")
	ErrEmptyInput        = errors.New("nothing to send")
	ErrInvalidTransition = errors.New("invalid turn state transition")
)
