package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/drblury/flowplan/internal/runtime/jsoncodec"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the flow itself failed: invalid descriptor, runner errors
	ExitCommandError = 2 // bad arguments, unreadable files, unreachable store
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Response is the JSON envelope of every command result.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

// Success writes data in the JSON envelope. Text output is left to the caller.
func (f *OutputFormatter) Success(data any) error {
	return f.writeJSON(Response{Status: "ok", Data: data})
}

// Failure reports err and returns it wrapped with code.
func (f *OutputFormatter) Failure(code int, message string, err error) error {
	exitErr := WrapExitError(code, message, err)
	if f.json() {
		if werr := f.writeJSON(Response{Status: "error", Error: exitErr.Error()}); werr != nil {
			return werr
		}
	}
	return exitErr
}

// Printf writes a line of text output. It is a no-op in JSON mode.
func (f *OutputFormatter) Printf(format string, args ...any) {
	if f.json() {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

// VerboseLog writes diagnostics to ErrWriter when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, "[verbose] "+format+"\n", args...)
}

func (f *OutputFormatter) writeJSON(v any) error {
	data, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = f.Writer.Write(append(data, '\n'))
	return err
}
