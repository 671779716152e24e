package model

// Workflow identifies which interaction is currently in flight for a session.
type Workflow string

const (
	WorkflowNone          Workflow = "none"
	WorkflowSubmitAnswer  Workflow = "submitting_answer"
	WorkflowFetchQuestion Workflow = "fetching_question"

	WorkflowExecuteCode     Workflow = "executing_code"
	WorkflowFetchObjectives Workflow = "fetching_objectives"
)

// Languages the code runner accepts.
const (
	LanguageGo     = "golang"
	LanguagePython = "python"

	DefaultLanguage = LanguageGo
)

// SupportedLanguage reports whether lang can be sent to the code runner.
func SupportedLanguage(lang string) bool {
	return lang == LanguageGo || lang == LanguagePython
}

// DefaultArticle is the reading passage every new session starts with.
const DefaultArticle = `Log-Structured Merge (LSM) Trees are a type of data structure used to manage write-heavy workloads efficiently. LSM Trees are designed to optimize write operations by sequentially writing data to disk, delaying merging and sorting until later. This structure is often used in databases like Cassandra and LevelDB to ensure high throughput.`

// DefaultQuestion is the question shown before any follow-up is confirmed.
const DefaultQuestion = "What are the use(s) for struct tags in Go?"

// Session is a read-only snapshot of one user's interaction state.
type Session struct {
	Article  string   `json:"article"`
	Question string   `json:"question"`
	Feedback string   `json:"feedback"`
	Loading  bool     `json:"is_loading"`
	Workflow Workflow `json:"workflow"`
}

// AnswerSubmission is built per submit action and never stored.
type AnswerSubmission struct {
	UserID     string
	Question   string
	AnswerText string
}

// FeedbackResult is the parsed response of a submission call.
// NextQuestion is empty when the backend did not propose a follow-up.
type FeedbackResult struct {
	Feedback     string
	NextQuestion string
}

// NextQuestionResult is the parsed response of a fetch-next-question call.
// An empty Question means "keep the current question".
type NextQuestionResult struct {
	Question string
}

// CodeExecution is built per run action and never stored.
type CodeExecution struct {
	Language string
	Code     string
}

// ExecutionResult is the parsed response of a code run.
type ExecutionResult struct {
	Output string
}

// LearningObjectivesResult is the parsed response of a learning-objectives call.
// Objectives is never nil.
type LearningObjectivesResult struct {
	Objectives []string
}

// View is what a rendering surface draws for one state pass.
type View struct {
	Article          string   `json:"article"`
	Question         string   `json:"question"`
	Feedback         string   `json:"feedback,omitempty"`
	Loading          bool     `json:"is_loading"`
	Workflow         Workflow `json:"workflow"`
	Spinner          string   `json:"spinner,omitempty"`
	ShowNextQuestion bool     `json:"show_next_question"`
	Error            string   `json:"error,omitempty"`
	Notice           string   `json:"notice,omitempty"`

	Language           string   `json:"language"`
	Output             string   `json:"output,omitempty"`
	LearningObjectives []string `json:"learning_objectives"`
}

// SubmitAnswerRequest is the payload for submitting an answer.
type SubmitAnswerRequest struct {
	Answer string `json:"answer" binding:"required,notblank,max=10000"`
}

// ExecuteCodeRequest is the payload for running code. An empty language
// keeps the session's current one.
type ExecuteCodeRequest struct {
	Language string `json:"language" binding:"omitempty,oneof=golang python"`
	Code     string `json:"code" binding:"required,notblank,max=20000"`
}

// StartSessionResponse is returned when a new session is created.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
	View      View   `json:"view"`
}
