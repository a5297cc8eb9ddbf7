package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrNotApplicable means a strategy declined to run for this input
	ErrNotApplicable = errors.New("strategy not applicable")
	// ErrNoResult means a strategy ran but produced nothing usable
	ErrNoResult = errors.New("strategy produced no result")
	// ErrInvalidResult means a strategy produced output failing validation
	ErrInvalidResult = errors.New("strategy result failed validation")
	// ErrGlobalTimeout means the call deadline elapsed
	ErrGlobalTimeout = errors.New("global scrape deadline exceeded")
	// ErrPersistence means a cache or profile write failed
	ErrPersistence = errors.New("persistence failed")
	// ErrBlocked means the target answered with a bot challenge or captcha
	ErrBlocked = errors.New("blocked by anti-bot protection")
)

// Error kinds recorded in failure histograms
const (
	KindNotApplicable = "not_applicable"
	KindNoResult      = "no_result"
	KindInvalidResult = "invalid_result"
	KindTimeout       = "timeout"
	KindNetwork       = "network"
	KindNavigation    = "navigation"
	KindBlocked       = "blocked"
	KindExecution     = "execution"
)

// StepError wraps an error raised by a strategy with the step name
type StepError struct {
	Step string
	Kind string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NavigationError marks a failure to load or interact with a page
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Classify maps an error to a histogram kind
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Kind != "" {
		return stepErr.Kind
	}

	switch {
	case errors.Is(err, ErrNotApplicable):
		return KindNotApplicable
	case errors.Is(err, ErrNoResult):
		return KindNoResult
	case errors.Is(err, ErrInvalidResult):
		return KindInvalidResult
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrGlobalTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return KindNavigation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return KindNetwork
	}

	return KindExecution
}
