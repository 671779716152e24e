package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/middleware"
	"github.com/stemsi/exstem-tutor/internal/model"
	"github.com/stemsi/exstem-tutor/internal/response"
	"github.com/stemsi/exstem-tutor/internal/scoring"
	"github.com/stemsi/exstem-tutor/internal/session"
	"github.com/stemsi/exstem-tutor/internal/validator"
	ws "github.com/stemsi/exstem-tutor/internal/websocket"
)

/* ---------------- Fake scoring backend ---------------- */

type backend struct {
	submits    atomic.Int32
	fetches    atomic.Int32
	runs       atomic.Int32
	objectives atomic.Int32

	mu         sync.Mutex
	submitCode int
	feedback   string
	summary    string
	question   string
	output     string
	runError   string
	lastRun    map[string]string
	article    string

	// When gate is non-nil each call signals entered and blocks until gate closes.
	gate    chan struct{}
	entered chan struct{}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.gate != nil {
		b.entered <- struct{}{}
		<-b.gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/submit-response":
		b.submits.Add(1)
		if b.submitCode != 0 && b.submitCode != http.StatusOK {
			w.WriteHeader(b.submitCode)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"feedback": b.feedback, "summary": b.summary})
	case "/get-question":
		b.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"question": b.question})
	case "/execute":
		b.runs.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&b.lastRun)
		if b.runError != "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": b.runError})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"output": b.output})
	case "/get-learning-objectives":
		b.objectives.Add(1)
		b.article = r.URL.Query().Get("articleContent")
		_ = json.NewEncoder(w).Encode(map[string][]string{"learning_objectives": {"Explain compaction", "Compare write paths"}})
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	engine   *gin.Engine
	registry *session.Registry
	backend  *backend
}

func newHarness(t *testing.T, b *backend) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	log := zerolog.Nop()
	reg := session.NewRegistry("user123", scoring.NewClient(srv.URL, log), log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reg.CloseAll(ctx)
	})

	cookie := middleware.NewCookieOptions(30*time.Minute, false)
	sh := NewSessionHandler(reg, log, cookie)
	wh := NewWSHandler(log, nil)
	sys := NewSystemHandler(reg, log)

	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	r.GET("/health", sys.Health)
	r.POST("/api/v1/sessions", sh.Start)
	s := r.Group("/api/v1/session", middleware.RequireSession(reg, cookie))
	s.GET("", sh.Get)
	s.POST("/answer", sh.SubmitAnswer)
	s.POST("/next-question", sh.NextQuestion)
	s.POST("/execute", sh.ExecuteCode)
	s.POST("/learning-objectives", sh.LearningObjectives)
	s.DELETE("", sh.End)
	r.GET("/ws/v1/session/stream", middleware.RequireSession(reg, cookie), wh.SessionStream)

	return &harness{engine: r, registry: reg, backend: b}
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (h *harness) do(t *testing.T, method, path, sessionID, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(middleware.SessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	return w.Code, env
}

func (h *harness) start(t *testing.T) string {
	t.Helper()
	code, env := h.do(t, http.MethodPost, "/api/v1/sessions", "", "")
	if code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	var res model.StartSessionResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	return res.SessionID
}

func decodeView(t *testing.T, env envelope) model.View {
	t.Helper()
	var v model.View
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

/* ---------------- HTTP surface ---------------- */

func TestStart_SetsCookieAndDefaults(t *testing.T) {
	h := newHarness(t, &backend{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie missing or not HttpOnly: %+v", cookie)
	}

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	var res model.StartSessionResponse
	_ = json.Unmarshal(env.Data, &res)
	if res.SessionID != cookie.Value {
		t.Errorf("session_id %q != cookie %q", res.SessionID, cookie.Value)
	}
	if res.View.Question != model.DefaultQuestion || res.View.Article != model.DefaultArticle || res.View.Loading {
		t.Errorf("unexpected initial view: %+v", res.View)
	}
}

func TestSubmitAnswer_Settled(t *testing.T) {
	h := newHarness(t, &backend{feedback: "Good", summary: "Explain reflection."})
	id := h.start(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/session/answer", id, `{"answer":"json encoding"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, err = %+v", code, env.Error)
	}
	v := decodeView(t, env)
	if v.Feedback != "Good" || v.Question != "Explain reflection." || v.Loading || v.Spinner != "" {
		t.Errorf("view = %+v", v)
	}
	if v.ShowNextQuestion {
		t.Error("next-question block shown after submit")
	}
}

func TestSubmitAnswer_Blank(t *testing.T) {
	h := newHarness(t, &backend{})
	id := h.start(t)

	for _, body := range []string{`{"answer":"   "}`, `{}`} {
		code, env := h.do(t, http.MethodPost, "/api/v1/session/answer", id, body)
		if code != http.StatusUnprocessableEntity || env.Error == nil || env.Error.Code != response.ErrValidation {
			t.Fatalf("body %s: status = %d, err = %+v", body, code, env.Error)
		}
		if v := decodeView(t, env); v.Notice != session.EmptyAnswerNotice {
			t.Errorf("notice = %q", v.Notice)
		}
	}
	if n := h.backend.submits.Load(); n != 0 {
		t.Errorf("backend called %d times for blank answers", n)
	}
}

func TestSubmitAnswer_BadPayloads(t *testing.T) {
	h := newHarness(t, &backend{})
	id := h.start(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/session/answer", id, `{"answer":`)
	if code != http.StatusBadRequest || env.Error.Code != response.ErrInvalidPayload {
		t.Errorf("malformed: status = %d, err = %+v", code, env.Error)
	}

	long := `{"answer":"` + strings.Repeat("a", 10001) + `"}`
	code, env = h.do(t, http.MethodPost, "/api/v1/session/answer", id, long)
	if code != http.StatusUnprocessableEntity || env.Error.Fields["answer"] == "" {
		t.Errorf("too long: status = %d, err = %+v", code, env.Error)
	}
}

func TestSubmitAnswer_BackendFailureFoldsIntoView(t *testing.T) {
	h := newHarness(t, &backend{submitCode: http.StatusInternalServerError})
	id := h.start(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/session/answer", id, `{"answer":"x"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	v := decodeView(t, env)
	if v.Feedback != session.FeedbackFailedNotice || v.Loading {
		t.Errorf("view = %+v", v)
	}
	if !strings.HasPrefix(v.Error, "Error submitting response:") {
		t.Errorf("error = %q", v.Error)
	}
	if v.Question != model.DefaultQuestion {
		t.Errorf("question changed on failure: %q", v.Question)
	}
}

func TestNextQuestion(t *testing.T) {
	h := newHarness(t, &backend{question: "What is a goroutine?"})
	id := h.start(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/session/next-question", id, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	v := decodeView(t, env)
	if v.Question != "What is a goroutine?" || v.Feedback != session.FetchSucceededNotice || !v.ShowNextQuestion {
		t.Errorf("view = %+v", v)
	}
}

func TestActionWhileLoadingIsRefused(t *testing.T) {
	b := &backend{question: "Q2", gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := newHarness(t, b)
	id := h.start(t)

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session/next-question", nil)
		req.Header.Set(middleware.SessionHeader, id)
		w := httptest.NewRecorder()
		h.engine.ServeHTTP(w, req)
		done <- w.Code
	}()
	<-b.entered

	code, env := h.do(t, http.MethodGet, "/api/v1/session", id, "")
	if v := decodeView(t, env); code != http.StatusOK || !v.Loading || v.Spinner != session.SpinnerFetching {
		t.Errorf("loading view = %+v", v)
	}

	code, env = h.do(t, http.MethodPost, "/api/v1/session/answer", id, `{"answer":"x"}`)
	if code != http.StatusConflict || env.Error.Code != response.ErrWorkflowBusy {
		t.Errorf("busy: status = %d, err = %+v", code, env.Error)
	}

	close(b.gate)
	if got := <-done; got != http.StatusOK {
		t.Errorf("in-flight fetch status = %d", got)
	}
	if n := b.submits.Load(); n != 0 {
		t.Errorf("refused submit reached backend %d times", n)
	}
}

func TestExecuteCode(t *testing.T) {
	t.Run("settles with output", func(t *testing.T) {
		b := &backend{output: "hello"}
		h := newHarness(t, b)
		id := h.start(t)

		code, env := h.do(t, http.MethodPost, "/api/v1/session/execute", id, `{"language":"python","code":"print('hello')"}`)
		if code != http.StatusOK {
			t.Fatalf("status = %d, err = %+v", code, env.Error)
		}
		v := decodeView(t, env)
		if v.Output != "hello" || v.Language != "python" || v.Loading {
			t.Errorf("view = %+v", v)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.lastRun["language"] != "python" || b.lastRun["code"] != "print('hello')" {
			t.Errorf("runner payload = %v", b.lastRun)
		}
	})

	t.Run("runner error lands in output", func(t *testing.T) {
		h := newHarness(t, &backend{runError: "exit status 1"})
		id := h.start(t)

		code, env := h.do(t, http.MethodPost, "/api/v1/session/execute", id, `{"code":"package main"}`)
		if code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		v := decodeView(t, env)
		if v.Output != "exit status 1" || v.Notice != session.ExecuteFailedNotice {
			t.Errorf("view = %+v", v)
		}
		if !strings.HasPrefix(v.Error, "Error running the code:") {
			t.Errorf("error = %q", v.Error)
		}
	})

	t.Run("rejections", func(t *testing.T) {
		b := &backend{}
		h := newHarness(t, b)
		id := h.start(t)

		cases := []struct {
			body   string
			status int
			code   response.ErrCode
		}{
			{`{"code":"   "}`, http.StatusUnprocessableEntity, response.ErrValidation},
			{`{}`, http.StatusUnprocessableEntity, response.ErrValidation},
			{`{"language":"cobol","code":"x"}`, http.StatusUnprocessableEntity, response.ErrValidation},
			{`{"code":`, http.StatusBadRequest, response.ErrInvalidPayload},
		}
		for _, tc := range cases {
			code, env := h.do(t, http.MethodPost, "/api/v1/session/execute", id, tc.body)
			if code != tc.status || env.Error == nil || env.Error.Code != tc.code {
				t.Errorf("body %s: status = %d, err = %+v", tc.body, code, env.Error)
			}
		}
		if n := b.runs.Load(); n != 0 {
			t.Errorf("runner called %d times", n)
		}
	})
}

func TestLearningObjectives(t *testing.T) {
	b := &backend{}
	h := newHarness(t, b)
	id := h.start(t)

	code, env := h.do(t, http.MethodPost, "/api/v1/session/learning-objectives", id, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, err = %+v", code, env.Error)
	}
	v := decodeView(t, env)
	if len(v.LearningObjectives) != 2 || v.LearningObjectives[1] != "Compare write paths" {
		t.Errorf("objectives = %v", v.LearningObjectives)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.article != model.DefaultArticle {
		t.Errorf("articleContent = %q", b.article)
	}
}

func TestEndSession(t *testing.T) {
	h := newHarness(t, &backend{})
	id := h.start(t)

	if code, _ := h.do(t, http.MethodDelete, "/api/v1/session", id, ""); code != http.StatusOK {
		t.Fatalf("end status = %d", code)
	}
	code, env := h.do(t, http.MethodGet, "/api/v1/session", id, "")
	if code != http.StatusNotFound || env.Error.Code != response.ErrSessionNotFound {
		t.Errorf("after end: status = %d, err = %+v", code, env.Error)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, &backend{})
	h.start(t)

	code, env := h.do(t, http.MethodGet, "/health", "", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	_ = json.Unmarshal(env.Data, &body)
	if body.Status != "ok" || body.Sessions != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{session.ErrEmptyAnswer, http.StatusUnprocessableEntity, response.ErrValidation},
		{session.ErrBusy, http.StatusConflict, response.ErrWorkflowBusy},
		{session.ErrClosed, http.StatusGone, response.ErrSessionClosed},
		{context.Canceled, http.StatusRequestTimeout, response.ErrRequestCancelled},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		status, code, ok := statusFor(tc.err)
		if ok || status != tc.status || code != tc.code {
			t.Errorf("statusFor(%v) = %d %s %v", tc.err, status, code, ok)
		}
	}
	if _, _, ok := statusFor(nil); !ok {
		t.Error("nil error not ok")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		42 * time.Second:              "0m 42s",
		3*time.Hour + 5*time.Minute:   "3h 5m 0s",
		50*time.Hour + 30*time.Minute: "2d 2h 30m",
	}
	for d, want := range cases {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

/* ---------------- WebSocket stream ---------------- */

func TestSessionStream(t *testing.T) {
	h := newHarness(t, &backend{question: "What is a channel?"})
	id := h.start(t)

	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set(middleware.SessionHeader, id)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() map[string]json.RawMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m map[string]json.RawMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}
	eventOf := func(m map[string]json.RawMessage) ws.Event {
		var e ws.Event
		_ = json.Unmarshal(m["event"], &e)
		return e
	}

	if first := read(); eventOf(first) != ws.EventState {
		t.Fatalf("first event = %s", first["event"])
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionFetchNext}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sawLoading bool
	for {
		m := read()
		if eventOf(m) != ws.EventState {
			continue
		}
		var v model.View
		_ = json.Unmarshal(m["view"], &v)
		if v.Loading {
			sawLoading = true
			continue
		}
		if v.Question != "What is a channel?" {
			t.Errorf("settled question = %q", v.Question)
		}
		break
	}
	if !sawLoading {
		t.Error("loading pass not streamed")
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionSubmit, Answer: "  "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(ws.Request{Action: ws.ActionPing}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sawNotice, sawError, sawPong bool
	for !(sawNotice && sawError && sawPong) {
		m := read()
		switch eventOf(m) {
		case ws.EventState:
			var v model.View
			_ = json.Unmarshal(m["view"], &v)
			if v.Notice == session.EmptyAnswerNotice {
				sawNotice = true
			}
		case ws.EventError:
			var code string
			_ = json.Unmarshal(m["code"], &code)
			if code != string(response.ErrValidation) {
				t.Errorf("error code = %q", code)
			}
			sawError = true
		case ws.EventPong:
			sawPong = true
		}
	}
	if n := h.backend.submits.Load(); n != 0 {
		t.Errorf("blank answer reached backend %d times", n)
	}
}

func TestSessionStream_ExecuteAndObjectives(t *testing.T) {
	h := newHarness(t, &backend{output: "42"})
	id := h.start(t)

	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set(middleware.SessionHeader, id)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// settled reads state events until one that is not loading arrives.
	settled := func() model.View {
		t.Helper()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var ev ws.StateEvent
			if err := conn.ReadJSON(&ev); err != nil {
				t.Fatalf("read: %v", err)
			}
			if ev.Event == ws.EventState && !ev.View.Loading && ev.View.Workflow == model.WorkflowNone {
				return ev.View
			}
		}
	}
	settled() // initial state

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionExecute, Language: "golang", Code: "package main"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v := settled(); v.Output != "42" {
		t.Errorf("output = %q", v.Output)
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionFetchObjectives}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v := settled(); len(v.LearningObjectives) != 2 {
		t.Errorf("objectives = %v", v.LearningObjectives)
	}
	if n := h.backend.runs.Load(); n != 1 {
		t.Errorf("runs = %d", n)
	}
}
