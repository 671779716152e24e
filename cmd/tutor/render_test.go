package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stemsi/exstem-tutor/internal/model"
)

func TestWrap(t *testing.T) {
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"one two three", 7, "one two\nthree"},
		{"averyveryverylongword x", 5, "averyveryverylongword\nx"},
		{"a\nb c", 80, "a\nb c"},
		{"  spaced   out  ", 80, "spaced out"},
	}
	for _, tc := range cases {
		if got := wrap(tc.in, tc.width); got != tc.want {
			t.Errorf("wrap(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestRenderer_Settled(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, 80)

	r.settled(model.View{Question: "Q2", Feedback: "Nice.", Error: ""})
	out := buf.String()
	if !strings.Contains(out, "Feedback:\nNice.") || !strings.Contains(out, "Question:\nQ2") {
		t.Errorf("submit render = %q", out)
	}

	buf.Reset()
	r.settled(model.View{Question: "Q3", Feedback: "Next question fetched successfully.", ShowNextQuestion: true})
	out = buf.String()
	if !strings.Contains(out, "Next Question:\nQ3") {
		t.Errorf("fetch render = %q", out)
	}

	buf.Reset()
	r.settled(model.View{Question: "Q1", Feedback: "Failed to receive feedback.", Error: "Error submitting response: boom"})
	if !strings.HasPrefix(buf.String(), "! Error submitting response: boom") {
		t.Errorf("failure render = %q", buf.String())
	}
}

func TestRenderer_SpinnerOnlyWhenSet(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, 0)

	r.spinner(model.View{Loading: true})
	if buf.Len() != 0 {
		t.Errorf("printed %q without spinner text", buf.String())
	}
	r.spinner(model.View{Loading: true, Spinner: "Processing your answer..."})
	if !strings.Contains(buf.String(), "Processing your answer...") {
		t.Errorf("spinner = %q", buf.String())
	}
}

func TestRenderer_OutputAndObjectives(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, 80)

	r.output(model.View{Language: "golang", Output: "hello\nworld\n"})
	if got := buf.String(); got != "Output (golang):\nhello\nworld\n\n" {
		t.Errorf("output render = %q", got)
	}

	buf.Reset()
	r.objectives(model.View{LearningObjectives: []string{"Explain compaction", "Compare write paths"}})
	if got := buf.String(); !strings.Contains(got, "1. Explain compaction\n2. Compare write paths\n") {
		t.Errorf("objectives render = %q", got)
	}

	buf.Reset()
	r.objectives(model.View{LearningObjectives: []string{}, Error: "Error fetching learning objectives: timeout"})
	if got := buf.String(); !strings.HasPrefix(got, "! Error fetching learning objectives: timeout\nNo learning objectives yet.") {
		t.Errorf("failed objectives render = %q", got)
	}
}

func TestReadCode(t *testing.T) {
	lines := make(chan string, 4)
	lines <- "package main"
	lines <- "func main() {}"
	lines <- "  /end  "
	code, ok := readCode(context.Background(), lines)
	if !ok || code != "package main\nfunc main() {}\n" {
		t.Errorf("readCode = %q, %v", code, ok)
	}

	close(lines)
	if _, ok := readCode(context.Background(), lines); ok {
		t.Error("readCode ok after input closed")
	}
}
