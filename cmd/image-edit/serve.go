package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fpang/image-edit/internal/gate"
	"github.com/fpang/image-edit/internal/ingest"
	"github.com/fpang/image-edit/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// api serves one workflow over JSON.
type api struct {
	workflow   *workflow.Orchestrator
	gate       *gate.Gate
	httpClient *http.Client
	maxBytes   int64
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd, false)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return err
	}
	defer a.Close()

	h := &api{
		workflow:   a.workflow,
		gate:       a.gate,
		httpClient: &http.Client{Timeout: a.cfg.FetchTimeout},
		maxBytes:   a.cfg.MaxImageBytes,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", portFlag),
		Handler:      h.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.cfg.EditTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", portFlag).Msg("Starting web server")
	fmt.Printf("\n  Image Edit API: http://localhost:%d/api/state\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (h *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withLogging)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Post("/image", h.handleImage)
		r.Get("/preview", h.handlePreview)
		r.Post("/edit", h.handleEdit)
		r.Get("/result", h.handleResult)
		r.Get("/history", h.handleHistory)
		r.Post("/history/{index}/select", h.handleHistorySelect)
		r.Post("/download", h.handleDownload)
		r.Post("/download/ack", h.handleDownloadAck)
		r.Post("/download/cancel", h.handleDownloadCancel)
		r.Post("/reset", h.handleReset)
	})
	return r
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

type stateResponse struct {
	workflow.Snapshot
	PendingDownload string `json:"pending_download,omitempty"`
}

func (h *api) state() stateResponse {
	resp := stateResponse{Snapshot: h.workflow.Snapshot()}
	if name, ok := h.gate.Pending(); ok {
		resp.PendingDownload = name
	}
	return resp
}

func (h *api) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state())
}

// handleImage accepts a multipart upload in field "file" or JSON {"url": ...}.
func (h *api) handleImage(w http.ResponseWriter, r *http.Request) {
	var src ingest.Source

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if int64(len(data)) > h.maxBytes {
			httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", h.maxBytes))
			return
		}
		src = ingest.NewBytesSource(header.Filename, data)
	default:
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
			httpError(w, http.StatusBadRequest, "expected multipart field \"file\" or JSON {\"url\": ...}")
			return
		}
		src = ingest.NewURLSource(req.URL, h.httpClient)
	}

	if err := h.workflow.Ingest(r.Context(), src); err != nil {
		log.Warn().Err(err).Str("source", src.Name()).Msg("Image load failed")
		httpError(w, statusFor(err), workflow.UserMessage(err))
		return
	}
	h.gate.Cancel()
	respondJSON(w, http.StatusOK, h.state())
}

func (h *api) handlePreview(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.workflow.Asset()
	if !ok || asset.Preview.IsZero() {
		httpError(w, http.StatusNotFound, workflow.MessageNoImage)
		return
	}
	w.Header().Set("Content-Type", asset.Preview.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, asset.Preview.Path)
}

// handleEdit submits {"instruction": ..., "wait": bool}. Without wait it
// returns 202 with the submission ID; poll /api/state for the outcome.
func (h *api) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instruction string `json:"instruction"`
		Wait        bool   `json:"wait"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	instruction := req.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = h.workflow.Instruction()
	}

	sub, err := h.workflow.Submit(r.Context(), instruction)
	if err != nil {
		httpError(w, statusFor(err), workflow.UserMessage(err))
		return
	}
	h.gate.Cancel()

	if !req.Wait {
		respondJSON(w, http.StatusAccepted, map[string]string{"submission_id": sub.ID()})
		return
	}
	if _, err := sub.Wait(r.Context()); err != nil {
		httpError(w, http.StatusGatewayTimeout, "stopped waiting for the edit")
		return
	}
	respondJSON(w, http.StatusOK, h.state())
}

func (h *api) handleResult(w http.ResponseWriter, r *http.Request) {
	result, ok := h.workflow.Result()
	if !ok {
		httpError(w, http.StatusNotFound, "no edited image")
		return
	}
	w.Header().Set("Content-Type", result.Output.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Output.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Output.Data)
}

func (h *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	selected := -1
	if i, ok := h.workflow.HistorySelection(); ok {
		selected = i
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":  h.workflow.History(),
		"selected": selected,
	})
}

func (h *api) handleHistorySelect(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	value, err := h.workflow.SelectHistory(i)
	if err != nil {
		if errors.Is(err, workflow.ErrBusy) {
			httpError(w, http.StatusConflict, workflow.MessageBusy)
			return
		}
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"instruction": value, "selected": i})
}

// handleDownload moves the current result into the gate. The client shows
// its own confirmation, then calls ack or cancel.
func (h *api) handleDownload(w http.ResponseWriter, r *http.Request) {
	result, _ := h.workflow.Result()
	filename, err := h.gate.RequestRelease(result.Output)
	if err != nil {
		httpError(w, http.StatusConflict, gateMessage(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"filename": filename})
}

func (h *api) handleDownloadAck(w http.ResponseWriter, r *http.Request) {
	filename, _ := h.gate.Pending()
	if err := h.gate.Acknowledge(r.Context()); err != nil {
		if errors.Is(err, gate.ErrNothingPending) || errors.Is(err, gate.ErrSuperseded) {
			httpError(w, http.StatusConflict, gateMessage(err))
			return
		}
		httpError(w, http.StatusBadGateway, fmt.Sprintf("Could not save %s.", filename))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"filename": filename, "status": "saved"})
}

func (h *api) handleDownloadCancel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": h.gate.Cancel()})
}

func (h *api) handleReset(w http.ResponseWriter, r *http.Request) {
	h.gate.Cancel()
	h.workflow.Reset()
	respondJSON(w, http.StatusOK, h.state())
}

func statusFor(err error) int {
	var ingestErr *ingest.IngestionError
	var valErr *workflow.ValidationError
	switch {
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &ingestErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func gateMessage(err error) string {
	switch {
	case errors.Is(err, gate.ErrNoResult):
		return "There is no edited image to download."
	case errors.Is(err, gate.ErrPending):
		return "A download is already waiting for confirmation."
	case errors.Is(err, gate.ErrNothingPending):
		return "No download is waiting for confirmation."
	case errors.Is(err, gate.ErrSuperseded):
		return "The edited image changed; request the download again."
	default:
		return err.Error()
	}
}
