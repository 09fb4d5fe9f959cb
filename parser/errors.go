package parser

import "fmt"

// Extraction failure reasons.
const (
	ReasonBotDetection  = "bot-detection"
	ReasonEmptyResponse = "empty-response"
	ReasonMalformed     = "malformed-markup"
)

var (
	// ErrBotDetection matches extraction errors caused by an anti-bot challenge page.
	ErrBotDetection = &ExtractionError{Reason: ReasonBotDetection}
	// ErrEmptyResponse matches extraction errors caused by empty or missing markup.
	ErrEmptyResponse = &ExtractionError{Reason: ReasonEmptyResponse}
)

// ExtractionError is returned when a page cannot be turned into items at all.
// Per-item problems never produce one.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is matches any ExtractionError with the same reason.
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	return ok && t.Reason == e.Reason
}
