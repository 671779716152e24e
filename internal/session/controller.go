package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/metrics"
	"github.com/stemsi/exstem-tutor/internal/model"
	"github.com/stemsi/exstem-tutor/internal/scoring"
)

// Scorer is the backend contract the controller drives.
type Scorer interface {
	SubmitAnswer(ctx context.Context, sub model.AnswerSubmission) (model.FeedbackResult, error)
	FetchNextQuestion(ctx context.Context, userID string) (model.NextQuestionResult, error)
	ExecuteCode(ctx context.Context, run model.CodeExecution) (model.ExecutionResult, error)
	FetchLearningObjectives(ctx context.Context, article string) (model.LearningObjectivesResult, error)
}

const subscriberBuffer = 16

type event struct {
	workflow model.Workflow
	input    input
	reply    chan result
}

type result struct {
	view model.View
	err  error
}

// Controller is the single actor that mutates one session's Store.
// At most one action is accepted at a time; the rest get ErrBusy.
type Controller struct {
	userID string
	store  *Store
	scorer Scorer
	log    zerolog.Logger

	events chan event
	done   chan struct{}

	// busy is set when dispatch accepts an action and cleared by Run
	// just before the reply is sent.
	busy atomic.Bool

	subMu   sync.Mutex
	subs    map[int]chan model.View
	nextSub int
}

// NewController creates a controller over a fresh Store. Call Run to start it.
func NewController(userID string, scorer Scorer, log zerolog.Logger) *Controller {
	return &Controller{
		userID: userID,
		store:  NewStore(),
		scorer: scorer,
		log:    log.With().Str("component", "session_controller").Logger(),
		events: make(chan event),
		done:   make(chan struct{}),
		subs:   make(map[int]chan model.View),
	}
}

// Run processes accepted actions until ctx is cancelled. A workflow that has
// already entered Loading always runs to completion.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	defer c.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			res := c.handle(context.WithoutCancel(ctx), ev)
			c.busy.Store(false)
			ev.reply <- res
		}
	}
}

// Done is closed after Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns the current session fields.
func (c *Controller) Snapshot() model.Session { return c.store.Snapshot() }

// View returns the render output for the current state.
func (c *Controller) View() model.View { return c.store.View() }

// SubmitAnswer runs the submit-answer workflow and returns the settled view.
// Blank answers return ErrEmptyAnswer without contacting the backend.
// Backend failures are folded into the view, not returned.
func (c *Controller) SubmitAnswer(ctx context.Context, answer string) (model.View, error) {
	return c.dispatch(ctx, event{workflow: model.WorkflowSubmitAnswer, input: input{answer: answer}})
}

// FetchNextQuestion runs the fetch-next-question workflow and returns the settled view.
func (c *Controller) FetchNextQuestion(ctx context.Context) (model.View, error) {
	return c.dispatch(ctx, event{workflow: model.WorkflowFetchQuestion})
}

// ExecuteCode runs code on the backend runner and returns the settled view.
// An empty language keeps the session's current one. Blank code returns
// ErrEmptyCode and an unknown language ErrUnsupportedLanguage.
func (c *Controller) ExecuteCode(ctx context.Context, language, code string) (model.View, error) {
	return c.dispatch(ctx, event{
		workflow: model.WorkflowExecuteCode,
		input:    input{language: language, code: code},
	})
}

// FetchLearningObjectives asks the backend for objectives derived from the
// current article and returns the settled view.
func (c *Controller) FetchLearningObjectives(ctx context.Context) (model.View, error) {
	return c.dispatch(ctx, event{workflow: model.WorkflowFetchObjectives})
}

// Subscribe registers for every render pass. The returned func unsubscribes.
// Slow subscribers miss intermediate views rather than blocking the actor.
func (c *Controller) Subscribe() (<-chan model.View, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan model.View, subscriberBuffer)
	id := c.nextSub
	c.nextSub++
	if c.subs == nil {
		close(ch)
		return ch, func() {}
	}
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers reports how many render subscribers are attached.
func (c *Controller) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Controller) dispatch(ctx context.Context, ev event) (model.View, error) {
	select {
	case <-c.done:
		return c.View(), ErrClosed
	default:
	}
	if !c.busy.CompareAndSwap(false, true) {
		return c.View(), ErrBusy
	}

	ev.reply = make(chan result, 1)
	select {
	case c.events <- ev:
	case <-c.done:
		c.busy.Store(false)
		return c.View(), ErrClosed
	case <-ctx.Done():
		c.busy.Store(false)
		return c.View(), ctx.Err()
	}

	select {
	case res := <-ev.reply:
		return res.view, res.err
	case <-ctx.Done():
		return c.View(), ctx.Err()
	}
}

// handle moves Idle to Loading, publishes the loading pass, then settles.
func (c *Controller) handle(ctx context.Context, ev event) result {
	if c.store.Snapshot().Loading {
		return result{view: c.View(), err: ErrBusy}
	}

	switch ev.workflow {
	case model.WorkflowSubmitAnswer:
		if strings.TrimSpace(ev.input.answer) == "" {
			return c.rejectWith(ErrEmptyAnswer)
		}
		c.store.begin(model.WorkflowSubmitAnswer, ev.input, SubmittingNotice)
	case model.WorkflowFetchQuestion:
		c.store.begin(model.WorkflowFetchQuestion, input{}, FetchingNotice)
	case model.WorkflowExecuteCode:
		in := ev.input
		if in.language == "" {
			in.language = c.store.View().Language
		}
		if !model.SupportedLanguage(in.language) {
			return c.rejectWith(ErrUnsupportedLanguage)
		}
		if strings.TrimSpace(in.code) == "" {
			return c.rejectWith(ErrEmptyCode)
		}
		c.store.begin(model.WorkflowExecuteCode, in, ExecutingNotice)
	case model.WorkflowFetchObjectives:
		c.store.begin(model.WorkflowFetchObjectives, input{}, ObjectivesNotice)
	default:
		return result{view: c.View()}
	}

	c.log.Debug().Str("workflow", string(ev.workflow)).Msg("Workflow loading")
	c.publish()
	c.evaluate(ctx)
	return result{view: c.store.View()}
}

func (c *Controller) rejectWith(ve *ValidationError) result {
	c.store.reject(ve.Notice)
	c.log.Debug().Str("field", ve.Field).Msg("Rejected action")
	return result{view: c.publish(), err: ve}
}

// evaluate resumes whatever workflow the store says is in flight.
func (c *Controller) evaluate(ctx context.Context) {
	f := c.store.inFlight()
	if !f.loading {
		return
	}

	switch f.workflow {
	case model.WorkflowSubmitAnswer:
		c.settleSubmit(ctx, f.question, f.input.answer)
	case model.WorkflowFetchQuestion:
		c.settleFetch(ctx)
	case model.WorkflowExecuteCode:
		c.settleExecute(ctx, f.input)
	case model.WorkflowFetchObjectives:
		c.settleObjectives(ctx, f.article)
	default:
		c.log.Error().Str("workflow", string(f.workflow)).Msg("Loading without a workflow, clearing")
		c.store.fail("", "")
	}
	c.publish()
}

func (c *Controller) settleSubmit(ctx context.Context, question, answer string) {
	res, err := c.scorer.SubmitAnswer(ctx, model.AnswerSubmission{
		UserID:     c.userID,
		Question:   question,
		AnswerText: answer,
	})
	if err != nil {
		c.store.fail(FeedbackFailedNotice, userMessage(err))
		metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowSubmitAnswer), "failure").Inc()
		c.log.Warn().Err(err).Msg("Submit answer failed")
		return
	}

	c.store.succeed(res.Feedback, res.NextQuestion)
	metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowSubmitAnswer), "success").Inc()
	c.log.Debug().Bool("next_question", res.NextQuestion != "").Msg("Answer scored")
}

func (c *Controller) settleFetch(ctx context.Context) {
	res, err := c.scorer.FetchNextQuestion(ctx, c.userID)
	if err != nil {
		c.store.fail(FetchFailedNotice, userMessage(err))
		metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowFetchQuestion), "failure").Inc()
		c.log.Warn().Err(err).Msg("Fetch next question failed")
		return
	}

	c.store.succeed(FetchSucceededNotice, res.Question)
	metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowFetchQuestion), "success").Inc()
	c.log.Debug().Bool("changed", res.Question != "").Msg("Next question fetched")
}

func (c *Controller) settleExecute(ctx context.Context, in input) {
	res, err := c.scorer.ExecuteCode(ctx, model.CodeExecution{Language: in.language, Code: in.code})
	if err != nil {
		c.store.settleOutput(runFailureOutput(err), ExecuteFailedNotice, userMessage(err))
		metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowExecuteCode), "failure").Inc()
		c.log.Warn().Err(err).Str("language", in.language).Msg("Code run failed")
		return
	}

	c.store.settleOutput(res.Output, ExecutedNotice, "")
	metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowExecuteCode), "success").Inc()
	c.log.Debug().Str("language", in.language).Int("output_bytes", len(res.Output)).Msg("Code run finished")
}

func (c *Controller) settleObjectives(ctx context.Context, article string) {
	res, err := c.scorer.FetchLearningObjectives(ctx, article)
	if err != nil {
		c.store.failAside(ObjectivesFailedNotice, userMessage(err))
		metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowFetchObjectives), "failure").Inc()
		c.log.Warn().Err(err).Msg("Fetch learning objectives failed")
		return
	}

	c.store.settleObjectives(res.Objectives)
	metrics.WorkflowsSettled.WithLabelValues(string(model.WorkflowFetchObjectives), "success").Inc()
	c.log.Debug().Int("count", len(res.Objectives)).Msg("Learning objectives fetched")
}

// publish fans the current view out to subscribers and returns it.
func (c *Controller) publish() model.View {
	v := c.store.View()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- v:
		default:
			c.log.Debug().Int("subscriber", id).Msg("Subscriber lagging, view dropped")
		}
	}
	return v
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subs = nil
}

// runFailureOutput is what the output pane shows after a failed run: the
// runner's own error text when it sent one.
func runFailureOutput(err error) string {
	var te *scoring.TransportError
	if errors.As(err, &te) && te.Detail != "" {
		return te.Detail
	}
	return DefaultRunFailureOutput
}

func userMessage(err error) string {
	var te *scoring.TransportError
	if errors.As(err, &te) {
		return te.Message()
	}
	return err.Error()
}
