package session

import (
	"sync"

	"github.com/stemsi/exstem-tutor/internal/model"
)

// input holds what an action captured when its workflow began.
type input struct {
	answer   string
	language string
	code     string
}

// flight is the in-flight workflow together with the state it reads.
type flight struct {
	workflow model.Workflow
	input    input
	question string
	article  string
	loading  bool
}

// Store holds the state of one session. Reads are open to any goroutine;
// writes are unexported and only issued by the owning Controller.
type Store struct {
	mu sync.RWMutex

	article  string
	question string
	feedback string
	loading  bool

	workflow model.Workflow
	pending  input

	language   string
	output     string
	objectives []string

	// lastSettled is the submit or fetch workflow that most recently completed successfully.
	lastSettled model.Workflow
	lastError   string
	notice      string
}

// NewStore returns a store populated with the default article and question.
func NewStore() *Store {
	return &Store{
		article:     model.DefaultArticle,
		question:    model.DefaultQuestion,
		workflow:    model.WorkflowNone,
		lastSettled: model.WorkflowNone,
		language:    model.DefaultLanguage,
		objectives:  []string{},
	}
}

// Snapshot returns a copy of the session fields.
func (s *Store) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Session{
		Article:  s.article,
		Question: s.question,
		Feedback: s.feedback,
		Loading:  s.loading,
		Workflow: s.workflow,
	}
}

// View computes the render output for the current state.
func (s *Store) View() model.View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := model.View{
		Article:            s.article,
		Question:           s.question,
		Feedback:           s.feedback,
		Loading:            s.loading,
		Workflow:           s.workflow,
		Error:              s.lastError,
		Notice:             s.notice,
		Language:           s.language,
		Output:             s.output,
		LearningObjectives: append([]string{}, s.objectives...),
	}
	if s.loading {
		switch s.workflow {
		case model.WorkflowSubmitAnswer:
			v.Spinner = SpinnerSubmitting
		case model.WorkflowFetchQuestion:
			v.Spinner = SpinnerFetching
		case model.WorkflowExecuteCode:
			v.Spinner = SpinnerExecuting
		case model.WorkflowFetchObjectives:
			v.Spinner = SpinnerObjectives
		}
	} else {
		v.ShowNextQuestion = s.lastSettled == model.WorkflowFetchQuestion
	}
	return v
}

// begin moves the store from Idle to Loading for wf. Submit and fetch write
// notice into the feedback text; the other workflows show it as a notice.
func (s *Store) begin(wf model.Workflow, in input, notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = true
	s.workflow = wf
	s.pending = in
	s.lastError = ""
	s.notice = ""

	switch wf {
	case model.WorkflowSubmitAnswer, model.WorkflowFetchQuestion:
		s.feedback = notice
		s.lastSettled = model.WorkflowNone
	case model.WorkflowExecuteCode:
		s.language = in.language
		s.output = ""
		s.notice = notice
	default:
		s.notice = notice
	}
}

// inFlight reports the workflow to resume together with its captured inputs.
func (s *Store) inFlight() flight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return flight{
		workflow: s.workflow,
		input:    s.pending,
		question: s.question,
		article:  s.article,
		loading:  s.loading,
	}
}

// succeed settles the in-flight workflow. An empty question keeps the current one.
func (s *Store) succeed(feedback, question string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = feedback
	if question != "" {
		s.question = question
	}
	s.lastSettled = s.workflow
	s.clearLoading()
}

// fail settles the in-flight workflow with a failure notice.
func (s *Store) fail(feedback, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = feedback
	s.lastError = errMsg
	s.lastSettled = model.WorkflowNone
	s.clearLoading()
}

// settleOutput records the result of a code run. errMsg is empty on success.
func (s *Store) settleOutput(output, notice, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = output
	s.notice = notice
	s.lastError = errMsg
	s.clearLoading()
}

// settleObjectives replaces the learning objectives.
func (s *Store) settleObjectives(objectives []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objectives = append([]string{}, objectives...)
	s.notice = ObjectivesLoadedNotice
	s.clearLoading()
}

// failAside settles a code run or objectives fetch without touching feedback.
func (s *Store) failAside(notice, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = notice
	s.lastError = errMsg
	s.clearLoading()
}

// reject records a validation notice without leaving Idle.
func (s *Store) reject(notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = notice
}

// clearLoading must be called with mu held.
func (s *Store) clearLoading() {
	s.loading = false
	s.workflow = model.WorkflowNone
	s.pending = input{}
}
