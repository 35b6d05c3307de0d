package mutate

import (
	"errors"
	"fmt"
)

var (
	ErrCompilation   = errors.New("mutate: compilation failed")
	ErrVerification  = errors.New("mutate: artifact not listed after build")
	ErrPollExhausted = errors.New("mutate: compile poll attempts exhausted")
)

// CompilationError is a build the console reported as failed.
type CompilationError struct {
	Token  string
	Marker string
	Reason string
	Log    string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("mutate: compile %s: %s (marker %q)", e.Token, e.Reason, e.Marker)
}

func (e *CompilationError) Is(target error) bool { return target == ErrCompilation }

// VerificationError is a build that reported success but whose artifact is
// missing from the listing, e.g. a stale success line in the log.
type VerificationError struct {
	Token  string
	Listed []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("mutate: %s not in listed artifacts %v", e.Token, e.Listed)
}

func (e *VerificationError) Is(target error) bool { return target == ErrVerification }
