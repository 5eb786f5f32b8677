// Package vtpanic recovers worker goroutines from panics so one bad search
// job cannot take down the consumer loop.
package vtpanic

import (
	"fmt"
	"runtime/debug"
)

// Recovered represents a panic captured during job execution.
type Recovered struct {
	Value      interface{}
	Stacktrace string
}

// Error implements the error interface.
func (p *Recovered) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// Recover turns the value returned by a direct recover() call into an
// error with a stack trace attached. Returns nil if r is nil (no panic).
//
// recover() only stops a panic when called directly inside the deferred
// function; wrapping it in a helper that calls recover() itself does not
// work. Callers must call recover() at the defer site and pass its
// result here:
//
//	defer func() {
//	    if err := vtpanic.Recover(recover()); err != nil {
//	        ...
//	    }
//	}()
func Recover(r interface{}) error {
	if r == nil {
		return nil
	}
	return &Recovered{
		Value:      r,
		Stacktrace: string(debug.Stack()),
	}
}

// FormatForLog renders a panic for structured logging.
func FormatForLog(p *Recovered) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", p.Value, p.Stacktrace)
}
