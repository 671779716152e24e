package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/config"
	"github.com/stemsi/exstem-tutor/internal/logger"
	"github.com/stemsi/exstem-tutor/internal/scoring"
	"github.com/stemsi/exstem-tutor/internal/session"
	"golang.org/x/term"
)

const (
	cmdNext       = "/next"
	cmdQuit       = "/quit"
	cmdRun        = "/run"
	cmdEnd        = "/end"
	cmdObjectives = "/objectives"
)

func main() {
	cfg := config.Load()

	// stdout carries the conversation, so logs go to stderr.
	log := logger.SetupTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl := session.NewController(cfg.UserID, scoring.NewClient(cfg.ScoringBaseURL, log), log)
	go ctrl.Run(ctx)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	r := newRenderer(os.Stdout, terminalWidth())

	views, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	go func() {
		for v := range views {
			if v.Loading {
				r.spinner(v)
			}
		}
	}()

	r.intro(ctrl.View())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive {
			r.prompt()
		}

		var line string
		select {
		case <-ctx.Done():
			r.bye()
			return
		case l, ok := <-lines:
			if !ok {
				r.bye()
				return
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == cmdRun {
			language := ""
			if len(fields) > 1 {
				language = fields[1]
			}
			code, ok := readCode(ctx, lines)
			if !ok {
				r.bye()
				return
			}
			v, err := ctrl.ExecuteCode(ctx, language, code)
			if !report(r, log, err) {
				continue
			}
			r.output(v)
			continue
		}

		switch strings.TrimSpace(line) {
		case cmdQuit:
			r.bye()
			return
		case cmdNext:
			v, err := ctrl.FetchNextQuestion(ctx)
			if !report(r, log, err) {
				continue
			}
			r.settled(v)
		case cmdObjectives:
			v, err := ctrl.FetchLearningObjectives(ctx)
			if !report(r, log, err) {
				continue
			}
			r.objectives(v)
		default:
			v, err := ctrl.SubmitAnswer(ctx, line)
			if !report(r, log, err) {
				continue
			}
			r.settled(v)
		}
	}
}

// readCode collects lines up to cmdEnd. ok is false when input or ctx ends first.
func readCode(ctx context.Context, lines <-chan string) (code string, ok bool) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", false
		case l, open := <-lines:
			if !open {
				return "", false
			}
			if strings.TrimSpace(l) == cmdEnd {
				return b.String(), true
			}
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
}

// report prints refusals and returns true when the view should be rendered.
func report(r *renderer, log zerolog.Logger, err error) bool {
	var ve *session.ValidationError
	switch {
	case err == nil:
		return true
	case errors.As(err, &ve):
		r.warn(ve.Notice)
	case errors.Is(err, session.ErrBusy):
		r.warn("Please wait for the current request to finish.")
	case errors.Is(err, context.Canceled), errors.Is(err, session.ErrClosed):
		// Shutting down; the loop exits on the next select.
	default:
		log.Error().Err(err).Msg("Unexpected session error")
	}
	return false
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
