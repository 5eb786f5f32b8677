package vterrors

import (
	"errors"
	"testing"
)

func TestWrapPreservesIs(t *testing.T) {
	err := Wrap(ErrJobNotFound, "job xyz not found")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatal("expected errors.Is to match the wrapped sentinel")
	}
	if errors.Is(err, ErrJobFailed) {
		t.Fatal("expected errors.Is to not match an unrelated sentinel")
	}
}

func TestWrapfPreservesCauseChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrapf(ErrDependencyUnavailable, "ping postgres", cause)

	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatal("expected errors.Is to match the sentinel")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to match the wrapped cause")
	}
	if err.Error() != "ping postgres: connection reset" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestWrapWithoutCauseMessage(t *testing.T) {
	err := Wrap(ErrConfiguration, "missing REDIS_URL")
	if err.Error() != "missing REDIS_URL" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}
