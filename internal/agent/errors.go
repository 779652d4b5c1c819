package agent

import "errors"

var (
	// ErrDeclined ends a turn after the user refuses a tool approval.
	// The refusal is recorded in the transcript as a failed tool result
	// before the turn stops; it is recoverable by the next user input.
	ErrDeclined = errors.New("user declined tool execution")

	// ErrInterrupted ends a turn on Ctrl-C or context cancellation.
	// Completed tool results stay in the transcript.
	ErrInterrupted = errors.New("turn interrupted")

	// ErrIterationLimit ends an act-mode turn that hit the hard cap.
	ErrIterationLimit = errors.New("iteration limit reached")
)
