package wizard

import (
	"errors"
	"fmt"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/submission"
)

var (
	// ErrExitWizard is returned by Retreat on the initial step after the host has been
	// asked to leave the wizard.
	ErrExitWizard = errors.New("wizard: exit requested")
	// ErrWizardClosed is returned for any change after the order was placed.
	ErrWizardClosed = errors.New("wizard: order already placed")
	// ErrSubmissionInFlight is returned while a submission awaits its outcome.
	ErrSubmissionInFlight = errors.New("wizard: submission in flight")
	// ErrStaleSubmission is returned when an outcome arrives for a ticket that is no
	// longer current. The outcome is discarded.
	ErrStaleSubmission = errors.New("wizard: stale submission outcome")
	// ErrUnknownOption is returned for ids that are not in the catalog.
	ErrUnknownOption = errors.New("wizard: unknown option")
	ErrValidation    = errors.New("wizard: validation failed")
	ErrInvalidInput  = errors.New("wizard: invalid input")
	// ErrNotAtReview is returned when a submission is started before the final step.
	ErrNotAtReview      = errors.New("wizard: submission requires the review step")
	ErrSubmissionFailed = errors.New("wizard: submission failed")
	ErrOrderNotPlaced   = errors.New("wizard: order not placed")
)

// ValidationError reports the step whose gate failed and the reason shown to the user.
type ValidationError struct {
	Step   domain.Step
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wizard: %s: %s", e.Step, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SubmissionError wraps a failed submission outcome.
type SubmissionError struct {
	Kind submission.ErrorKind
	Err  error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wizard: submission %s", e.Kind)
	}
	return fmt.Sprintf("wizard: submission %s: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmissionFailed}
	}
	return []error{ErrSubmissionFailed, e.Err}
}

var submissionMessages = map[submission.ErrorKind]string{
	submission.KindTimeout:        "the payment service did not answer in time. please try again.",
	submission.KindDeclined:       "the payment was declined. check your payment details or choose another method.",
	submission.KindUnavailable:    "the payment service is unavailable right now. please try again later.",
	submission.KindInvalidRequest: "the order could not be processed. review your details and try again.",
	submission.KindCancelled:      "the order submission was cancelled.",
	submission.KindFailed:         "the order could not be placed. please try again.",
}

// userMessage is the text stored in OrderResult.Message for a failed submission.
func userMessage(kind submission.ErrorKind) string {
	if msg, ok := submissionMessages[kind]; ok {
		return msg
	}
	return submissionMessages[submission.KindFailed]
}
