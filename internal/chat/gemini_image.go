package chat

// gemini_image.go implements the edit service on top of the Gemini image
// models: one inline image plus one instruction in, one image and optional
// text out. Exactly one GenerateContent call is made per edit; there are no
// retries.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/image-edit/internal/workflow"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// EditError is a failed edit. Message is the service's own explanation
// when it gave one, and is what users see.
type EditError struct {
	Message string
	Code    int
	Status  string
	Err     error
}

func (e *EditError) Error() string {
	var sb strings.Builder
	sb.WriteString("gemini edit failed")
	if e.Code != 0 {
		fmt.Fprintf(&sb, " (code: %d)", e.Code)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	} else if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// Cause returns the message to show the user, or "" when there is none.
func (e *EditError) Cause() string {
	return e.Message
}

// GeminiEditor edits images with a Gemini image model.
type GeminiEditor struct {
	client            *genai.Client
	model             string
	systemInstruction string
}

// NewGeminiEditor creates an editor. An empty model uses DefaultImageModel.
func NewGeminiEditor(client *genai.Client, model, systemInstruction string) *GeminiEditor {
	if model == "" {
		model = DefaultImageModel
	}
	return &GeminiEditor{client: client, model: model, systemInstruction: systemInstruction}
}

// Model returns the model ID in use.
func (e *GeminiEditor) Model() string {
	return e.model
}

// Edit sends the payload and instruction to Gemini and returns the edited image.
func (e *GeminiEditor) Edit(ctx context.Context, req workflow.EditRequest) (workflow.EditResult, error) {
	startTime := time.Now()
	log.Info().
		Str("model", e.model).
		Int("image_bytes", len(req.Payload.Bytes())).
		Str("image_mime", req.Payload.MediaType).
		Msg("Sending image to Gemini for editing")

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if e.systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: e.systemInstruction}},
		}
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: req.Payload.MediaType, Data: req.Payload.Bytes()}},
			{Text: req.Instruction},
		},
	}}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(startTime)).Msg("Gemini image editing call failed")
		return workflow.EditResult{}, classifyError(err)
	}

	result, err := parseEditResponse(resp)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(startTime)).Msg("Gemini returned no edited image")
		return workflow.EditResult{}, err
	}

	log.Info().
		Int("output_bytes", len(result.Output.Data)).
		Str("output_mime", result.Output.MIMEType).
		Int("text_length", len(result.Narrative)).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini image editing complete")

	return result, nil
}

// parseEditResponse extracts the last inline image and all text from resp.
func parseEditResponse(resp *genai.GenerateContentResponse) (workflow.EditResult, error) {
	if resp == nil {
		return workflow.EditResult{}, &EditError{Err: errors.New("empty response")}
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		msg := fb.BlockReasonMessage
		if msg == "" {
			msg = fmt.Sprintf("The request was blocked (%s).", fb.BlockReason)
		}
		return workflow.EditResult{}, &EditError{Message: msg, Status: string(fb.BlockReason)}
	}

	var result workflow.EditResult
	var text strings.Builder
	var finishReason string
	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if candidate.FinishReason != "" {
			finishReason = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				result.Output = workflow.OutputReference{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				}
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	result.Narrative = strings.TrimSpace(text.String())

	if result.Output.IsZero() {
		switch {
		case result.Narrative != "":
			return workflow.EditResult{}, &EditError{Message: result.Narrative, Status: finishReason}
		case finishReason != "" && finishReason != string(genai.FinishReasonStop):
			return workflow.EditResult{}, &EditError{
				Message: fmt.Sprintf("The model did not return an image (%s).", finishReason),
				Status:  finishReason,
			}
		default:
			return workflow.EditResult{}, &EditError{Err: errors.New("no image returned in response")}
		}
	}
	if result.Output.MIMEType == "" {
		result.Output.MIMEType = "image/png"
	}
	return result, nil
}

// classifyError turns an SDK error into an *EditError, keeping the API's own
// message when there is one.
func classifyError(err error) *EditError {
	if apiErr, ok := asAPIError(err); ok {
		return &EditError{Message: apiErr.Message, Code: apiErr.Code, Status: apiErr.Status, Err: err}
	}
	return &EditError{Err: err}
}

func asAPIError(err error) (*genai.APIError, bool) {
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	var val genai.APIError
	if errors.As(err, &val) {
		return &val, true
	}
	return nil, false
}
