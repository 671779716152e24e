package scoring

import "fmt"

// Op names the backend operation a TransportError came from.
type Op string

const (
	OpSubmitAnswer    Op = "submit_answer"
	OpFetchQuestion   Op = "fetch_question"
	OpExecuteCode     Op = "execute_code"
	OpFetchObjectives Op = "fetch_objectives"
)

// TransportError covers dial failures, timeouts, non-2xx statuses and
// undecodable bodies. StatusCode is zero when no response was received.
// Detail is the "error" field of a non-2xx JSON body, if any.
type TransportError struct {
	Op         Op
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scoring %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message is the human-readable notice shown next to the fixed failure text.
func (e *TransportError) Message() string {
	switch e.Op {
	case OpFetchQuestion:
		return fmt.Sprintf("Error fetching next question: %v", e.Err)
	case OpExecuteCode:
		return fmt.Sprintf("Error running the code: %v", e.Err)
	case OpFetchObjectives:
		return fmt.Sprintf("Error fetching learning objectives: %v", e.Err)
	default:
		return fmt.Sprintf("Error submitting response: %v", e.Err)
	}
}
