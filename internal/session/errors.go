package session

import "errors"

// User-facing notices written into the feedback text.
const (
	SubmittingNotice     = "Submitting your answer..."
	FetchingNotice       = "Fetching the next question..."
	FeedbackFailedNotice = "Failed to receive feedback."
	FetchFailedNotice    = "Failed to fetch the next question."
	FetchSucceededNotice = "Next question fetched successfully."
	EmptyAnswerNotice    = "Please enter your answer before submitting."

	SpinnerSubmitting = "Processing your answer..."
	SpinnerFetching   = "Fetching next question..."
)

// Notices for the code runner and the objectives panel. These leave the
// feedback text alone.
const (
	ExecutingNotice         = "Running your code..."
	ExecutedNotice          = "Code finished running."
	ExecuteFailedNotice     = "Failed to run the code."
	EmptyCodeNotice         = "Please enter some code before running."
	UnsupportedLangNotice   = "Unsupported language. Use golang or python."
	ObjectivesNotice        = "Fetching learning objectives..."
	ObjectivesLoadedNotice  = "Learning objectives loaded."
	ObjectivesFailedNotice  = "Failed to fetch learning objectives."
	SpinnerExecuting        = "Running code..."
	SpinnerObjectives       = "Loading learning objectives..."
	DefaultRunFailureOutput = "Error running the code"
)

// ValidationError is returned when an action is rejected before leaving Idle.
type ValidationError struct {
	Field  string
	Notice string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Notice }

var (
	// ErrEmptyAnswer rejects blank or whitespace-only answers.
	ErrEmptyAnswer = &ValidationError{Field: "answer", Notice: EmptyAnswerNotice}

	// ErrEmptyCode rejects blank code before it reaches the runner.
	ErrEmptyCode = &ValidationError{Field: "code", Notice: EmptyCodeNotice}

	// ErrUnsupportedLanguage rejects languages the runner does not know.
	ErrUnsupportedLanguage = &ValidationError{Field: "language", Notice: UnsupportedLangNotice}

	// ErrBusy is returned when an action arrives while another one is accepted or in flight.
	ErrBusy = errors.New("session: a workflow is already in flight")

	// ErrClosed is returned once the session actor has stopped.
	ErrClosed = errors.New("session: closed")
)
