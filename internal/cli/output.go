package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/roach88/liveview/internal/liveview"
	"github.com/roach88/liveview/internal/store"
	"github.com/roach88/liveview/internal/tasks"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed: document not found, sweep refused, scenarios failed
	ExitCommandError = 2 // Command error: bad flags, unreadable config, database not opened
)

// Error codes in JSON error responses.
const (
	ErrCodeGeneric      = "E000"
	ErrCodeNotFound     = "E001"
	ErrCodeReserved     = "E002"
	ErrCodeRegistration = "E003"
	ErrCodeStore        = "E004"
	ErrCodeSweepTooSoon = "E005"
	ErrCodeTestFailed   = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
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

// errorCode maps an engine error to its JSON error code.
func errorCode(err error) string {
	switch {
	case store.IsNotFound(err):
		return ErrCodeNotFound
	case errors.Is(err, liveview.ErrReservedField):
		return ErrCodeReserved
	case store.IsRegistrationError(err):
		return ErrCodeRegistration
	case errors.Is(err, liveview.ErrSweepTooSoon):
		return ErrCodeSweepTooSoon
	case store.IsStoreError(err):
		return ErrCodeStore
	default:
		return ErrCodeGeneric
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
	owner    = color.New(color.FgCyan).SprintFunc()
)

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "%s [%s]: %s\n", failMark("Error"), code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an ExitError with exit code 1.
func (f *OutputFormatter) Fail(message string, err error) error {
	_ = f.Error(errorCode(err), fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(ExitFailure, message, err)
}

// Tasks renders a task list. Text output is one line per task.
func (f *OutputFormatter) Tasks(list []tasks.Task) error {
	if f.Format == "json" {
		return f.Success(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(f.Writer, dim("no tasks"))
		return nil
	}
	for _, t := range list {
		fmt.Fprintln(f.Writer, taskLine(t))
	}
	return nil
}

func taskLine(t tasks.Task) string {
	var b strings.Builder
	if t.IsCompleted {
		b.WriteString(okMark("[x]"))
	} else {
		b.WriteString("[ ]")
	}
	fmt.Fprintf(&b, " %s  %s", t.Body, dim(t.ID))
	if t.UserID != "" {
		fmt.Fprintf(&b, "  @%s", owner(t.UserID))
	}
	if inv := t.Invitees(); len(inv) > 0 {
		fmt.Fprintf(&b, "  +%s", strings.Join(inv, ",+"))
	}
	return b.String()
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// Warn writes a warning to the diagnostic writer.
func (f *OutputFormatter) Warn(format string, args ...any) {
	w := f.GetErrWriter()
	fmt.Fprint(w, color.YellowString("warning: "))
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
