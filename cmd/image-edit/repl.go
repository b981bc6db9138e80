package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fpang/image-edit/internal/gate"
	"github.com/fpang/image-edit/internal/ingest"
	"github.com/fpang/image-edit/internal/workflow"
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const replHelp = `Commands:
  load <path|url>   load an image (replaces the current one)
  pick              choose an image with a file dialog
  edit [text]       edit the image; without text, reuse the selected history entry
  use <n>           select history entry n
  history           list recent instructions
  status            show the current state
  save              download the edited image (asks first)
  reset             clear everything, including history
  help              show this help
  quit              exit`

// repl drives one workflow from line commands.
type repl struct {
	workflow     *workflow.Orchestrator
	gate         *gate.Gate
	in           *bufio.Reader
	out          io.Writer
	interstitial gate.Interstitial
	pick         func(ctx context.Context) (string, error)
	httpClient   *http.Client
	tick         time.Duration
}

func runRepl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd, dialogsFlag)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return err
	}
	defer a.Close()

	in := bufio.NewReader(os.Stdin)
	r := &repl{
		workflow:   a.workflow,
		gate:       a.gate,
		in:         in,
		out:        os.Stdout,
		pick:       pickImage,
		httpClient: &http.Client{Timeout: a.cfg.FetchTimeout},
		tick:       time.Second,
	}
	// The terminal prompt shares the repl's reader so typed-ahead lines are
	// not lost between the two.
	r.interstitial = gate.PromptInterstitial{In: in, Out: os.Stdout}
	if dialogsFlag {
		r.interstitial = gate.DialogInterstitial{Title: "Download edited image"}
	}

	fmt.Fprintln(r.out, "image-edit "+version+". Type 'help' for commands.")
	return r.loop(ctx)
}

func (r *repl) loop(ctx context.Context) error {
	for {
		fmt.Fprint(r.out, "> ")
		line, err := r.in.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			if quit := r.execute(ctx, line); quit {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// execute runs one command line and reports whether the repl should exit.
func (r *repl) execute(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "load":
		r.load(ctx, arg)
	case "pick":
		path, err := r.pick(ctx)
		if err != nil {
			if errors.Is(err, zenity.ErrCanceled) {
				fmt.Fprintln(r.out, "No image chosen.")
				return false
			}
			fmt.Fprintf(r.out, "File dialog failed: %v\n", err)
			return false
		}
		r.load(ctx, path)
	case "edit":
		r.edit(ctx, arg)
	case "use":
		r.use(arg)
	case "history":
		r.history()
	case "status":
		r.status()
	case "save":
		r.save(ctx)
	case "reset":
		r.gate.Cancel()
		r.workflow.Reset()
		fmt.Fprintln(r.out, "Cleared.")
	case "help", "?":
		fmt.Fprintln(r.out, replHelp)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(r.out, "Unknown command %q. Type 'help' for commands.\n", name)
	}
	return false
}

func (r *repl) load(ctx context.Context, arg string) {
	if arg == "" {
		fmt.Fprintln(r.out, "Usage: load <path|url>")
		return
	}

	var src ingest.Source
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		src = ingest.NewURLSource(arg, r.httpClient)
	} else {
		src = ingest.NewFileSource(arg)
	}

	if err := r.workflow.Ingest(ctx, src); err != nil {
		fmt.Fprintln(r.out, workflow.UserMessage(err))
		log.Debug().Err(err).Str("source", arg).Msg("Load failed")
		return
	}
	r.gate.Cancel()

	asset, _ := r.workflow.Asset()
	fmt.Fprintf(r.out, "Loaded %s (%s, %d bytes)\n", asset.Name, asset.MIMEType, asset.Size)
	if asset.Metadata != nil {
		if camera := asset.Metadata.Camera(); camera != "" {
			fmt.Fprintf(r.out, "  Camera: %s\n", camera)
		}
		if asset.Metadata.HasDate {
			fmt.Fprintf(r.out, "  Taken:  %s\n", asset.Metadata.DateTaken.Format("2006-01-02 15:04"))
		}
	}
	fmt.Fprintf(r.out, "  Preview: %s\n", asset.Preview.Path)
}

func (r *repl) edit(ctx context.Context, arg string) {
	instruction := arg
	if instruction == "" {
		instruction = r.workflow.Instruction()
	}

	sub, err := r.workflow.Submit(ctx, instruction)
	if err != nil {
		fmt.Fprintln(r.out, workflow.UserMessage(err))
		return
	}
	r.gate.Cancel()

	fmt.Fprint(r.out, "Editing")
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(r.out, ".")
		case <-ctx.Done():
			fmt.Fprintln(r.out, " interrupted.")
			return
		case <-sub.Done():
			break wait
		}
	}
	fmt.Fprintln(r.out)

	outcome, _ := sub.Wait(ctx)
	switch outcome.Status {
	case workflow.OutcomeSucceeded:
		ref := outcome.Result.Output
		fmt.Fprintf(r.out, "Done: %s, %d bytes. Type 'save' to download.\n", ref.MIMEType, len(ref.Data))
		if outcome.Result.Narrative != "" {
			fmt.Fprintln(r.out, outcome.Result.Narrative)
		}
	case workflow.OutcomeFailed:
		fmt.Fprintln(r.out, outcome.Message)
	default:
		fmt.Fprintln(r.out, "The edit was discarded.")
	}
}

func (r *repl) use(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintln(r.out, "Usage: use <n> (see 'history')")
		return
	}
	value, err := r.workflow.SelectHistory(n - 1)
	if err != nil {
		fmt.Fprintln(r.out, "No such history entry.")
		return
	}
	fmt.Fprintf(r.out, "Instruction: %s\nType 'edit' to submit it.\n", value)
}

func (r *repl) history() {
	entries := r.workflow.History()
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No instructions yet.")
		return
	}
	selected, hasSelected := r.workflow.HistorySelection()
	for i, e := range entries {
		marker := " "
		if hasSelected && i == selected {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s\n", marker, i+1, e)
	}
}

func (r *repl) status() {
	snap := r.workflow.Snapshot()
	fmt.Fprintf(r.out, "State: %s\n", snap.Phase)
	if snap.Asset != nil {
		fmt.Fprintf(r.out, "Image: %s (%s, %d bytes)\n", snap.Asset.Name, snap.Asset.MIMEType, snap.Asset.SizeBytes)
	}
	if snap.Instruction != "" {
		fmt.Fprintf(r.out, "Instruction: %s\n", snap.Instruction)
	}
	if snap.Result != nil {
		fmt.Fprintf(r.out, "Result: %s, %d bytes\n", snap.Result.MIMEType, snap.Result.SizeBytes)
	}
	if snap.Message != "" {
		fmt.Fprintf(r.out, "Error: %s\n", snap.Message)
	}
	if name, ok := r.gate.Pending(); ok {
		fmt.Fprintf(r.out, "Pending download: %s\n", name)
	}
}

func (r *repl) save(ctx context.Context) {
	result, ok := r.workflow.Result()
	if !ok {
		fmt.Fprintln(r.out, "Nothing to save yet.")
		return
	}
	err := r.gate.Release(ctx, result.Output, r.interstitial)
	switch {
	case err == nil:
		fmt.Fprintln(r.out, "Saved.")
	case errors.Is(err, gate.ErrDeclined):
		fmt.Fprintln(r.out, "Download cancelled.")
	case errors.Is(err, gate.ErrNoResult):
		fmt.Fprintln(r.out, "Nothing to save yet.")
	case errors.Is(err, gate.ErrPending):
		fmt.Fprintln(r.out, "A download is already waiting for confirmation.")
	case errors.Is(err, gate.ErrSuperseded):
		fmt.Fprintln(r.out, "The edited image changed before it was saved.")
	default:
		fmt.Fprintf(r.out, "Save failed: %v\n", err)
	}
}

// pickImage shows a native file chooser limited to supported images.
func pickImage(ctx context.Context) (string, error) {
	patterns := make([]string, 0, len(ingest.SupportedImageExtensions))
	for ext := range ingest.SupportedImageExtensions {
		patterns = append(patterns, "*"+ext)
	}
	sort.Strings(patterns)

	return zenity.SelectFile(
		zenity.Title("Choose an image to edit"),
		zenity.FileFilters{{Name: "Images", Patterns: patterns, CaseFold: true}},
		zenity.Context(ctx),
	)
}
