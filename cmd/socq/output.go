package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/socq/internal/conversation"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

func printSuccess(format string, args ...any) {
	green.Fprintln(os.Stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	red.Fprintln(os.Stderr, "✗ "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	yellow.Fprintln(os.Stderr, "⚠ "+fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", bold.Sprint(label+":"), fmt.Sprintf(format, args...))
}

// Output formats for ask.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// turnOutput is the structured form of a finished turn.
type turnOutput struct {
	Question   string                   `json:"question" yaml:"question"`
	Answer     string                   `json:"answer" yaml:"answer"`
	References []conversation.Reference `json:"references" yaml:"references"`
	LatencyMs  int64                    `json:"latency_ms" yaml:"latency_ms"`
	Error      string                   `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string                   `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

func newTurnOutput(t conversation.Turn) turnOutput {
	out := turnOutput{
		Question:   t.Question.Text,
		Answer:     t.Reply.Text,
		References: t.References,
		LatencyMs:  t.Latency.Milliseconds(),
	}
	if out.References == nil {
		out.References = []conversation.Reference{}
	}
	if t.Err != nil {
		out.Error = conversation.Describe(t.Err)
		out.ErrorKind = conversation.Kind(t.Err)
	}
	return out
}

func writeTurn(w io.Writer, format string, t conversation.Turn) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newTurnOutput(t))
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(newTurnOutput(t))
	case outputText, "":
		writeTurnText(w, t)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func writeTurnText(w io.Writer, t conversation.Turn) {
	if t.Err != nil {
		red.Fprintln(w, t.Reply.Text)
	} else {
		fmt.Fprintln(w, t.Reply.Text)
	}
	writeReferences(w, t.References)
	gray.Fprintf(w, "\n%s · %d ms\n", t.Reply.Time, t.Latency.Milliseconds())
}

func writeReferences(w io.Writer, refs []conversation.Reference) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintln(w)
	bold.Fprintln(w, "References")
	for _, r := range refs {
		content := r.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Fprintf(w, "  %s %s\n", cyan.Sprintf("[%s]", r.Label), strings.ReplaceAll(content, "\n", " "))
	}
}

func writeMessage(w io.Writer, m conversation.Message) {
	who := cyan.Sprint("assistant")
	if m.Role == conversation.RoleUser {
		who = green.Sprint("you")
	}
	fmt.Fprintf(w, "%s %s\n%s\n\n", gray.Sprint(m.Time), who, m.Text)
}
