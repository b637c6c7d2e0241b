package briefing

import "fmt"

// Error is a structured, coded failure raised by the briefing service.
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded Error wrapping cause (which may be nil).
func NewError(code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// Error codes from spec §7.
const (
	CodeRetrievalFailed = "MORNING_BRIEFING_RETRIEVAL_FAILED"
)
