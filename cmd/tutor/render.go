package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stemsi/exstem-tutor/internal/model"
)

const defaultWidth = 80

// renderer draws views as plain text. The spinner goroutine and the input
// loop both write, so every method holds mu.
type renderer struct {
	mu    sync.Mutex
	out   io.Writer
	width int
}

func newRenderer(out io.Writer, width int) *renderer {
	if width <= 0 {
		width = defaultWidth
	}
	return &renderer{out: out, width: width}
}

func (r *renderer) intro(v model.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.heading("Adaptive Learning")
	r.section("Article", v.Article)
	r.section("Question", v.Question)
	fmt.Fprintf(r.out, "Type your answer and press Enter. %s fetches a new question, %s exits.\n", cmdNext, cmdQuit)
	fmt.Fprintf(r.out, "%s [golang|python] reads code until %s and runs it. %s lists learning objectives.\n\n", cmdRun, cmdEnd, cmdObjectives)
}

func (r *renderer) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, "> ")
}

func (r *renderer) spinner(v model.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.Spinner != "" {
		fmt.Fprintf(r.out, "… %s\n", v.Spinner)
	}
}

// settled draws the outcome of a finished workflow.
func (r *renderer) settled(v model.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Error != "" {
		fmt.Fprintf(r.out, "! %s\n", v.Error)
	}
	if v.ShowNextQuestion {
		r.section("Next Question", v.Question)
		if v.Feedback != "" {
			fmt.Fprintf(r.out, "%s\n\n", v.Feedback)
		}
		return
	}
	r.section("Feedback", v.Feedback)
	r.section("Question", v.Question)
}

// output draws the result of a code run. The output is printed verbatim.
func (r *renderer) output(v model.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Error != "" {
		fmt.Fprintf(r.out, "! %s\n", v.Error)
	}
	fmt.Fprintf(r.out, "Output (%s):\n%s\n\n", v.Language, strings.TrimRight(v.Output, "\n"))
}

func (r *renderer) objectives(v model.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Error != "" {
		fmt.Fprintf(r.out, "! %s\n", v.Error)
	}
	if len(v.LearningObjectives) == 0 {
		fmt.Fprint(r.out, "No learning objectives yet.\n\n")
		return
	}
	fmt.Fprintln(r.out, "Learning Objectives:")
	for i, o := range v.LearningObjectives {
		fmt.Fprintf(r.out, "%d. %s\n", i+1, wrap(o, r.width-4))
	}
	fmt.Fprintln(r.out)
}

func (r *renderer) warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "! %s\n", msg)
}

func (r *renderer) bye() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "Goodbye.")
}

// heading and section must be called with mu held.
func (r *renderer) heading(title string) {
	fmt.Fprintf(r.out, "%s\n%s\n\n", title, strings.Repeat("=", len(title)))
}

func (r *renderer) section(title, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(r.out, "%s:\n%s\n\n", title, wrap(body, r.width))
}

// wrap breaks text on spaces so no line exceeds width, unless a single word does.
func wrap(text string, width int) string {
	var b strings.Builder
	for i, para := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		lineLen := 0
		for j, word := range strings.Fields(para) {
			if j > 0 {
				if lineLen+1+len(word) > width {
					b.WriteByte('\n')
					lineLen = 0
				} else {
					b.WriteByte(' ')
					lineLen++
				}
			}
			b.WriteString(word)
			lineLen += len(word)
		}
	}
	return b.String()
}
