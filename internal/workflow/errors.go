package workflow

import (
	"errors"
	"strings"

	"github.com/fpang/image-edit/internal/ingest"
)

// User-facing messages. These are fixed strings; underlying causes are
// logged, not shown, except for service causes.
const (
	MessageNoImage       = "Please upload an image first."
	MessageNoInstruction = "Please enter an editing instruction."
	MessageIngestion     = "Failed to load the image. Please try again."
	MessageEncoding      = "Failed to read the image. Please try again."
	MessageService       = "Failed to edit the image. Please try again."
	MessageBusy          = "An edit is already in progress. Please wait for it to finish."
)

// ErrBusy is returned when a submit or ingest arrives while a submission is in flight.
var ErrBusy = errors.New("workflow: submission in progress")

// ValidationReason says which precondition a submit failed.
type ValidationReason int

const (
	// ReasonNoImage means no asset is loaded.
	ReasonNoImage ValidationReason = iota
	// ReasonNoInstruction means the instruction was empty after trimming.
	ReasonNoInstruction
)

// ValidationError rejects a submit before any state transition.
type ValidationError struct {
	Reason  ValidationReason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ServiceError wraps a failed transformation service call.
type ServiceError struct {
	// Cause is the service's own human-readable message, if it gave one.
	Cause string
	Err   error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Cause != "":
		return "edit service: " + e.Cause
	case e.Err != nil:
		return "edit service: " + e.Err.Error()
	default:
		return "edit service failed"
	}
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// causer is implemented by service errors that carry a message meant for users.
type causer interface {
	Cause() string
}

func newServiceError(err error) *ServiceError {
	se := &ServiceError{Err: err}
	var c causer
	if errors.As(err, &c) {
		se.Cause = strings.TrimSpace(c.Cause())
	}
	return se
}

// UserMessage maps any error produced by the workflow to the text a user should see.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	var ingestErr *ingest.IngestionError
	var encodeErr *ingest.EncodingError
	var serviceErr *ServiceError

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Message
	case errors.Is(err, ErrBusy):
		return MessageBusy
	case errors.As(err, &ingestErr):
		return MessageIngestion
	case errors.As(err, &encodeErr):
		return MessageEncoding
	case errors.As(err, &serviceErr):
		if serviceErr.Cause != "" {
			return serviceErr.Cause
		}
		return MessageService
	default:
		return MessageService
	}
}
