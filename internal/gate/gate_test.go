package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/image-edit/internal/workflow"
)

type fakeResults struct {
	result workflow.EditResult
	ok     bool
}

func (f *fakeResults) Result() (workflow.EditResult, bool) {
	return f.result, f.ok
}

type saveCall struct {
	ref      workflow.OutputReference
	filename string
}

type recordingSink struct {
	calls []saveCall
	err   error
}

func (s *recordingSink) Save(ctx context.Context, ref workflow.OutputReference, filename string) error {
	s.calls = append(s.calls, saveCall{ref: ref, filename: filename})
	return s.err
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.messages = append(n.messages, message)
}

type answer bool

func (a answer) Present(ctx context.Context, filename string) (bool, error) {
	return bool(a), nil
}

var r1 = workflow.EditResult{Output: workflow.OutputReference{Data: []byte("R1"), MIMEType: "image/png"}}

func fixedClock() time.Time {
	return time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC)
}

func newTestGate(ok bool) (*Gate, *recordingSink, *recordingNotifier) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	g := New(&fakeResults{result: r1, ok: ok}, sink, WithNotifier(notifier), WithClock(fixedClock))
	return g, sink, notifier
}

func TestRequestReleaseWithoutResult(t *testing.T) {
	g, sink, _ := newTestGate(false)

	if _, err := g.RequestRelease(r1.Output); !errors.Is(err, ErrNoResult) {
		t.Fatalf("RequestRelease() error = %v, want ErrNoResult", err)
	}
	if _, ok := g.Pending(); ok {
		t.Error("Pending() reports a download after rejected request")
	}
	if err := g.Acknowledge(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Errorf("Acknowledge() error = %v, want ErrNothingPending", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink called %d times, want 0", len(sink.calls))
	}
}

func TestRequestReleaseEmptyReference(t *testing.T) {
	g, _, _ := newTestGate(true)
	if _, err := g.RequestRelease(workflow.OutputReference{}); !errors.Is(err, ErrNoResult) {
		t.Errorf("RequestRelease(empty) error = %v, want ErrNoResult", err)
	}
}

func TestRequestThenAcknowledge(t *testing.T) {
	g, sink, _ := newTestGate(true)

	filename, err := g.RequestRelease(r1.Output)
	if err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}
	if filename != "edited-image-20261019-150405.png" {
		t.Errorf("filename = %q", filename)
	}
	if len(sink.calls) != 0 {
		t.Fatal("sink called before acknowledgment")
	}

	if err := g.Acknowledge(context.Background()); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("sink called %d times, want 1", len(sink.calls))
	}
	if !bytes.Equal(sink.calls[0].ref.Data, r1.Output.Data) || sink.calls[0].filename != filename {
		t.Errorf("sink got %q %q", sink.calls[0].ref.Data, sink.calls[0].filename)
	}
	if _, ok := g.Pending(); ok {
		t.Error("Pending() still set after Acknowledge")
	}
	if err := g.Acknowledge(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Errorf("second Acknowledge() error = %v, want ErrNothingPending", err)
	}
	if len(sink.calls) != 1 {
		t.Errorf("sink called %d times after second Acknowledge, want 1", len(sink.calls))
	}
}

func TestRequestWhilePending(t *testing.T) {
	g, sink, _ := newTestGate(true)
	if _, err := g.RequestRelease(r1.Output); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}

	if _, err := g.RequestRelease(r1.Output); !errors.Is(err, ErrPending) {
		t.Fatalf("second RequestRelease() error = %v, want ErrPending", err)
	}
	if len(sink.calls) != 0 {
		t.Error("re-requesting skipped the gate")
	}
}

func TestCancel(t *testing.T) {
	g, sink, _ := newTestGate(true)
	if _, err := g.RequestRelease(r1.Output); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}

	if !g.Cancel() {
		t.Error("Cancel() = false, want true")
	}
	if g.Cancel() {
		t.Error("second Cancel() = true, want false")
	}
	if err := g.Acknowledge(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Errorf("Acknowledge() after Cancel error = %v, want ErrNothingPending", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink called %d times, want 0", len(sink.calls))
	}
	if _, err := g.RequestRelease(r1.Output); err != nil {
		t.Errorf("RequestRelease() after Cancel error = %v", err)
	}
}

func TestSinkFailureNotifies(t *testing.T) {
	g, sink, notifier := newTestGate(true)
	sink.err = errors.New("disk full")
	if _, err := g.RequestRelease(r1.Output); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}

	err := g.Acknowledge(context.Background())

	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Acknowledge() error = %v, want disk full", err)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifier got %d messages, want 1", len(notifier.messages))
	}
	if _, ok := g.Pending(); ok {
		t.Error("Pending() still set after failed sink")
	}
}

func TestSinkDeclinedDoesNotNotify(t *testing.T) {
	g, sink, notifier := newTestGate(true)
	sink.err = fmt.Errorf("save dialog closed: %w", ErrDeclined)
	if _, err := g.RequestRelease(r1.Output); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}

	err := g.Acknowledge(context.Background())

	if !errors.Is(err, ErrDeclined) {
		t.Errorf("Acknowledge() error = %v, want ErrDeclined", err)
	}
	if len(notifier.messages) != 0 {
		t.Errorf("notifier got %q, want no messages", notifier.messages)
	}
	if _, ok := g.Pending(); ok {
		t.Error("Pending() still set after declined save")
	}
}

func TestRequestReleaseRejectsStaleReference(t *testing.T) {
	g, sink, _ := newTestGate(true)
	stale := workflow.OutputReference{Data: []byte("R0"), MIMEType: "image/png"}

	if _, err := g.RequestRelease(stale); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("RequestRelease(stale) error = %v, want ErrSuperseded", err)
	}
	if _, ok := g.Pending(); ok {
		t.Error("Pending() set for a stale reference")
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink called %d times, want 0", len(sink.calls))
	}
}

func TestAcknowledgeAfterResultReplaced(t *testing.T) {
	r2 := workflow.EditResult{Output: workflow.OutputReference{Data: []byte("R2"), MIMEType: "image/png"}}
	tests := []struct {
		name   string
		update func(*fakeResults)
	}{
		{name: "Newer result", update: func(f *fakeResults) { f.result = r2 }},
		{name: "Reset", update: func(f *fakeResults) { f.result, f.ok = workflow.EditResult{}, false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := &fakeResults{result: r1, ok: true}
			sink := &recordingSink{}
			notifier := &recordingNotifier{}
			g := New(results, sink, WithNotifier(notifier), WithClock(fixedClock))
			if _, err := g.RequestRelease(r1.Output); err != nil {
				t.Fatalf("RequestRelease() error = %v", err)
			}

			tt.update(results)

			if err := g.Acknowledge(context.Background()); !errors.Is(err, ErrSuperseded) {
				t.Errorf("Acknowledge() error = %v, want ErrSuperseded", err)
			}
			if len(sink.calls) != 0 {
				t.Errorf("sink called %d times, want 0", len(sink.calls))
			}
			if len(notifier.messages) != 0 {
				t.Errorf("notifier got %q, want no messages", notifier.messages)
			}
			if _, ok := g.Pending(); ok {
				t.Error("Pending() still set after superseded acknowledgment")
			}
		})
	}
}

func TestRelease(t *testing.T) {
	tests := []struct {
		name      string
		step      Interstitial
		wantErr   error
		wantSaves int
	}{
		{name: "Confirmed", step: answer(true), wantSaves: 1},
		{name: "Declined", step: answer(false), wantErr: ErrDeclined},
		{name: "Pass-through", step: PassThrough{}, wantSaves: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, sink, _ := newTestGate(true)

			err := g.Release(context.Background(), r1.Output, tt.step)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Release() error = %v, want %v", err, tt.wantErr)
			}
			if len(sink.calls) != tt.wantSaves {
				t.Errorf("sink called %d times, want %d", len(sink.calls), tt.wantSaves)
			}
			if _, ok := g.Pending(); ok {
				t.Error("Pending() still set after Release")
			}
		})
	}
}

func TestPromptInterstitial(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := PromptInterstitial{In: strings.NewReader(tt.input), Out: &out}

			got, err := p.Present(context.Background(), "x.png")
			if err != nil {
				t.Fatalf("Present() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Present() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "x.png") {
				t.Errorf("prompt %q does not name the file", out.String())
			}
		})
	}
}

func TestSuggestedFilename(t *testing.T) {
	tests := map[string]string{
		"image/png":  "edited-image-20261019-150405.png",
		"image/jpeg": "edited-image-20261019-150405.jpg",
		"":           "edited-image-20261019-150405.png",
	}
	for mimeType, want := range tests {
		if got := SuggestedFilename(mimeType, fixedClock()); got != want {
			t.Errorf("SuggestedFilename(%q) = %q, want %q", mimeType, got, want)
		}
	}
}

func TestDirSinkNeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := DirSink{Dir: dir}
	ref := workflow.OutputReference{Data: []byte("first"), MIMEType: "image/png"}

	for _, data := range []string{"first", "second", "third"} {
		ref.Data = []byte(data)
		if err := sink.Save(context.Background(), ref, "edit.png"); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	want := map[string]string{"edit.png": "first", "edit-1.png": "second", "edit-2.png": "third"}
	for name, content := range want {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", name, err)
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", name, got, content)
		}
	}
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var buf bytes.Buffer
	buf.ReadFrom(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, buf.Bytes())
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{}
	sink := &S3Sink{Client: client, Bucket: "edits", Prefix: "session-1"}

	if err := sink.Save(context.Background(), r1.Output, "edit.png"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(client.inputs) != 1 {
		t.Fatalf("PutObject called %d times, want 1", len(client.inputs))
	}
	in := client.inputs[0]
	if *in.Bucket != "edits" || *in.Key != "session-1/edit.png" || *in.ContentType != "image/png" {
		t.Errorf("PutObject(%s, %s, %s)", *in.Bucket, *in.Key, *in.ContentType)
	}
	if !bytes.Equal(client.bodies[0], r1.Output.Data) {
		t.Errorf("body = %q, want %q", client.bodies[0], r1.Output.Data)
	}
}
