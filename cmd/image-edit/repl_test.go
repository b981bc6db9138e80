package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fpang/image-edit/internal/gate"
	"github.com/ncruces/zenity"
)

func newTestRepl(t *testing.T, input string, sink *recordingSink) (*repl, *bytes.Buffer) {
	t.Helper()
	a := newTestApp(t, sink)
	in := bufio.NewReader(strings.NewReader(input))
	out := &bytes.Buffer{}
	r := &repl{
		workflow:     a.workflow,
		gate:         a.gate,
		in:           in,
		out:          out,
		interstitial: gate.PromptInterstitial{In: in, Out: out},
		pick:         func(ctx context.Context) (string, error) { return "", zenity.ErrCanceled },
		tick:         time.Hour,
	}
	return r, out
}

func TestReplSession(t *testing.T) {
	path := writePNG(t)
	sink := &recordingSink{}
	script := strings.Join([]string{
		"load " + path,
		"edit add a hat",
		"save",
		"y",
		"history",
		"quit",
		"status",
	}, "\n") + "\n"

	r, out := newTestRepl(t, script, sink)
	if err := r.loop(context.Background()); err != nil {
		t.Fatalf("loop() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Loaded cat.png (image/png,",
		"Done: image/png, 16 bytes.",
		"Added it.",
		"Download the edited image as edited-image-",
		"Saved.",
		"  1. add a hat",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "State:") {
		t.Error("commands after quit were executed")
	}
	if sink.calls() != 1 {
		t.Errorf("sink calls = %d, want 1", sink.calls())
	}
}

func TestReplSaveDeclined(t *testing.T) {
	path := writePNG(t)
	sink := &recordingSink{}
	r, out := newTestRepl(t, "load "+path+"\nedit add a hat\nsave\nn\n", sink)
	if err := r.loop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Download cancelled.") {
		t.Errorf("output = %s", out.String())
	}
	if sink.calls() != 0 {
		t.Errorf("sink calls = %d, want 0", sink.calls())
	}
	if _, ok := r.gate.Pending(); ok {
		t.Error("declined download left pending")
	}
}

func TestReplSinkFailure(t *testing.T) {
	path := writePNG(t)
	sink := &recordingSink{err: errors.New("disk full")}
	r, out := newTestRepl(t, "load "+path+"\nedit add a hat\nsave\nyes\n", sink)
	if err := r.loop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Save failed:") {
		t.Errorf("output = %s", out.String())
	}
	if r.workflow.State().Phase().String() != "succeeded" {
		t.Errorf("phase = %v, want succeeded", r.workflow.State().Phase())
	}
}

func TestReplCommands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"edit without image", "edit add a hat\n", "Please upload an image first."},
		{"load without argument", "load\n", "Usage: load <path|url>"},
		{"missing file", "load /no/such/file.png\n", "Failed to load the image. Please try again."},
		{"save without result", "save\n", "Nothing to save yet."},
		{"empty history", "history\n", "No instructions yet."},
		{"bad use", "use x\n", "Usage: use <n>"},
		{"missing entry", "use 3\n", "No such history entry."},
		{"pick cancelled", "pick\n", "No image chosen."},
		{"unknown", "frobnicate\n", `Unknown command "frobnicate"`},
		{"status", "status\n", "State: idle"},
		{"reset", "reset\n", "Cleared."},
		{"help", "help\n", "Commands:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out := newTestRepl(t, tt.input, &recordingSink{})
			if err := r.loop(context.Background()); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want containing %q", out.String(), tt.want)
			}
		})
	}
}

func TestReplUseHistory(t *testing.T) {
	path := writePNG(t)
	script := "load " + path + "\nedit make it blue\nedit add a hat\nuse 2\nedit\nhistory\n"
	r, out := newTestRepl(t, script, &recordingSink{})
	if err := r.loop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Instruction: make it blue") {
		t.Errorf("output = %s", out.String())
	}
	entries := r.workflow.History()
	if len(entries) != 2 || entries[0] != "make it blue" || entries[1] != "add a hat" {
		t.Errorf("History() = %v, want [make it blue add a hat]", entries)
	}
	result, ok := r.workflow.Result()
	if !ok || string(result.Output.Data) != "edited:make it blue" {
		t.Errorf("Result() = %q, %v", result.Output.Data, ok)
	}
}
