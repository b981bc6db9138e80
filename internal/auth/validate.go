package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/image-edit/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ValidationError represents a specific type of API key failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateAPIKey makes a minimal text call against model to check the key.
// It returns nil if the key works, or a *ValidationError.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var valErr *ValidationError
	switch {
	case err != nil:
		valErr = classifyError(err)
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		valErr = &ValidationError{Type: ErrTypeUnknown, Message: "API returned empty response"}
	}

	result := "success"
	if valErr != nil {
		result = valErr.Type.String()
	}
	metrics.New("ImageEdit").
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

func classifyError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return classifyAPIError(apiErr, err)
	}
	var apiVal genai.APIError
	if errors.As(err, &apiVal) {
		return classifyAPIError(&apiVal, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case containsAny(errLower, "api key not valid", "invalid api key", "api_key_invalid", "permission denied"):
		log.Error().Err(err).Msg("Invalid API key")
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case containsAny(errLower, "quota", "resource exhausted", "rate limit"):
		log.Error().Err(err).Msg("API quota exceeded")
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}

	case containsAny(errLower, "connection", "network", "timeout", "dial", "no such host", "unreachable"):
		log.Error().Err(err).Msg("Network error during API validation")
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Network error - check your internet connection", Err: err}

	default:
		log.Error().Err(err).Msg("Unknown error during API validation")
		return &ValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
	}
}

func classifyAPIError(apiErr *genai.APIError, err error) *ValidationError {
	switch {
	case apiErr.Code == 400:
		log.Error().Int("code", apiErr.Code).Msg("Bad request - possibly invalid API key format")
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
	case apiErr.Code == 401 || apiErr.Code == 403:
		log.Error().Int("code", apiErr.Code).Msg("Authentication failed - invalid API key")
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case apiErr.Code == 429:
		log.Error().Int("code", apiErr.Code).Msg("Rate limit exceeded")
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded - try again later", Err: err}
	case apiErr.Code >= 500 && apiErr.Code <= 504:
		log.Error().Int("code", apiErr.Code).Msg("Server error during validation")
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Gemini API server error - try again later", Err: err}
	default:
		log.Error().Int("code", apiErr.Code).Str("message", apiErr.Message).Msg("Google API error")
		return &ValidationError{Type: ErrTypeUnknown, Message: apiErr.Message, Err: err}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
