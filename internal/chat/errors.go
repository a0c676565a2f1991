package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for orchestration operations.
var (
	// ErrMaxRounds indicates the tool loop exceeded its round cap.
	ErrMaxRounds = errors.New("maximum tool rounds reached")

	// ErrNoProvider indicates no LLM provider is configured for the request.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist in any catalog.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorClass categorizes tool failures for reporting and retry decisions.
type ToolErrorClass string

const (
	// ToolErrorNotFound indicates the tool doesn't exist.
	ToolErrorNotFound ToolErrorClass = "not_found"

	// ToolErrorArguments indicates the call arguments were not valid JSON.
	ToolErrorArguments ToolErrorClass = "invalid_arguments"

	// ToolErrorValidation indicates arguments failed the declared schema.
	ToolErrorValidation ToolErrorClass = "validation"

	// ToolErrorExecution indicates the implementation itself failed.
	ToolErrorExecution ToolErrorClass = "execution"

	// ToolErrorParse indicates the tool output wasn't valid JSON and
	// could not be recovered.
	ToolErrorParse ToolErrorClass = "parse"

	// ToolErrorAuth indicates a missing or expired delegated credential.
	ToolErrorAuth ToolErrorClass = "auth"

	// ToolErrorTimeout indicates the tool timed out.
	ToolErrorTimeout ToolErrorClass = "timeout"

	// ToolErrorNetwork indicates a transient network failure.
	ToolErrorNetwork ToolErrorClass = "network"

	// ToolErrorPanic indicates the tool panicked.
	ToolErrorPanic ToolErrorClass = "panic"

	// ToolErrorUnknown indicates an unclassified error.
	ToolErrorUnknown ToolErrorClass = "unknown"
)

// IsRetryable reports whether retrying the operation may succeed.
func (c ToolErrorClass) IsRetryable() bool {
	switch c {
	case ToolErrorTimeout, ToolErrorNetwork:
		return true
	default:
		return false
	}
}

// ToolError is a structured tool failure. It is always converted into a
// {"success":false,...} tool result before reaching the model; it never
// escapes the executor as a Go error.
type ToolError struct {
	Class      ToolErrorClass
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Class))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a ToolError with automatic classification from the cause.
func NewToolError(toolName string, cause error) *ToolError {
	e := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Class:    ToolErrorUnknown,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Class = classifyToolError(cause)
	}
	return e
}

// WithClass sets the error class.
func (e *ToolError) WithClass(c ToolErrorClass) *ToolError {
	e.Class = c
	return e
}

// WithToolCallID sets the id correlating the error with a specific call.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// classifyToolError determines the error class from the error content.
func classifyToolError(err error) ToolErrorClass {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "refused"),
		strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "access token"),
		strings.Contains(errStr, "not connected"):
		return ToolErrorAuth
	case strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "required"):
		return ToolErrorValidation
	default:
		return ToolErrorExecution
	}
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Phase represents a distinct state in the orchestration loop.
type Phase string

const (
	// PhaseInit builds the system prompt, sanitizes inbound history, and
	// creates the durable execution record.
	PhaseInit Phase = "init"

	// PhaseFirstCall is the initial model call.
	PhaseFirstCall Phase = "first_call"

	// PhaseToolRound covers one batch of tool executions plus the model
	// call that follows them.
	PhaseToolRound Phase = "tool_round"

	// PhaseDone is the terminal success state.
	PhaseDone Phase = "done"

	// PhaseErrorRecovered is the terminal state after the top-level
	// safety net caught an otherwise-unhandled failure.
	PhaseErrorRecovered Phase = "error_recovered"
)

// LoopError wraps a failure with the phase and round it occurred in.
type LoopError struct {
	Phase   Phase
	Round   int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" && e.Cause != nil {
		return fmt.Sprintf("orchestration error at %s (round %d): %s: %v", e.Phase, e.Round, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("orchestration error at %s (round %d): %s", e.Phase, e.Round, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("orchestration error at %s (round %d): %v", e.Phase, e.Round, e.Cause)
	}
	return fmt.Sprintf("orchestration error at %s (round %d)", e.Phase, e.Round)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error { return e.Cause }
