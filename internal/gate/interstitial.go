package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncruces/zenity"
)

// PassThrough acknowledges immediately. It still runs as its own step, so
// nothing reaches the sink without going through the gate.
type PassThrough struct{}

func (PassThrough) Present(ctx context.Context, filename string) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// DialogInterstitial asks for confirmation with a native dialog.
type DialogInterstitial struct {
	Title string
}

func (d DialogInterstitial) Present(ctx context.Context, filename string) (bool, error) {
	title := d.Title
	if title == "" {
		title = "Download edited image"
	}
	err := zenity.Question(
		fmt.Sprintf("Download the edited image as %s?", filename),
		zenity.Title(title),
		zenity.OKLabel("Download"),
		zenity.CancelLabel("Cancel"),
		zenity.Context(ctx),
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PromptInterstitial asks for confirmation on a terminal.
type PromptInterstitial struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptInterstitial) Present(ctx context.Context, filename string) (bool, error) {
	fmt.Fprintf(p.Out, "Download the edited image as %s? [y/N]: ", filename)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			if errors.Is(a.err, io.EOF) {
				return false, nil
			}
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
