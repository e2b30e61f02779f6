package errors

import (
	sterrors "errors"
	"fmt"
)

// Compilation errors. A compile that returns any of these never yields a record.
var (
	ErrMissingConfiguration = sterrors.New("flowplan: missing runtime mapping")
	ErrUncompleted          = sterrors.New("flowplan: record is uncompleted")
	ErrPortNotFound         = sterrors.New("flowplan: port not found")
	ErrPortTypeMismatch     = sterrors.New("flowplan: port types do not match")
	ErrLoopNodeNotFound     = sterrors.New("flowplan: loop node not found")
	ErrDuplicateNode        = sterrors.New("flowplan: duplicate node identifier")
	ErrParsing              = sterrors.New("flowplan: parsing error")
	ErrSerialization        = sterrors.New("flowplan: serialization error")
)

// Runner errors. They terminate the loop of the runner that produced them.
var (
	ErrLinkNotAttached         = sterrors.New("flowplan: link is not attached")
	ErrLinkClosed              = sterrors.New("flowplan: link is closed")
	ErrUnsupported             = sterrors.New("flowplan: operation not supported")
	ErrUnimplemented           = sterrors.New("flowplan: not implemented")
	ErrSinkDoesNotHaveOutputs  = sterrors.New("flowplan: sink does not have outputs")
	ErrSourceDoesNotHaveInputs = sterrors.New("flowplan: source does not have inputs")
	ErrAlreadyRunning          = sterrors.New("flowplan: runner is already running")
	ErrFatal                   = sterrors.New("flowplan: fatal node error")
	ErrEndOfStream             = sterrors.New("flowplan: end of stream")
	ErrNodeNotFound            = sterrors.New("flowplan: node not found")
	ErrArtifactNotFound        = sterrors.New("flowplan: artifact not found")
	ErrRecordNotFound          = sterrors.New("flowplan: record not found")
	ErrConfigRequired          = sterrors.New("flowplan: configuration is required")
	ErrLoggerRequired          = sterrors.New("flowplan: logger is required")
)

// MissingConfigurationError reports a node with no runtime mapping entry.
type MissingConfigurationError struct {
	Node string
}

func (e MissingConfigurationError) Error() string {
	return fmt.Sprintf("%s for node %q", ErrMissingConfiguration, e.Node)
}

func (e MissingConfigurationError) Unwrap() error { return ErrMissingConfiguration }

// UncompletedError reports a link endpoint whose runtime could not be resolved.
type UncompletedError struct {
	Reason string
}

func (e UncompletedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUncompleted, e.Reason)
}

func (e UncompletedError) Unwrap() error { return ErrUncompleted }

// PortNotFoundError names the node and the port that could not be resolved.
type PortNotFoundError struct {
	Node string
	Port string
}

func (e PortNotFoundError) Error() string {
	return fmt.Sprintf("%s: node %q, port %q", ErrPortNotFound, e.Node, e.Port)
}

func (e PortNotFoundError) Unwrap() error { return ErrPortNotFound }

// PortTypeMismatchError names both sides of an incompatible link.
type PortTypeMismatchError struct {
	From string
	To   string
}

func (e PortTypeMismatchError) Error() string {
	return fmt.Sprintf("%s: %q != %q", ErrPortTypeMismatch, e.From, e.To)
}

func (e PortTypeMismatchError) Unwrap() error { return ErrPortTypeMismatch }

// LoopNodeNotFoundError reports a loop whose ingress or egress is not a surviving operator.
type LoopNodeNotFoundError struct {
	Role string
	Node string
}

func (e LoopNodeNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrLoopNodeNotFound, e.Role, e.Node)
}

func (e LoopNodeNotFoundError) Unwrap() error { return ErrLoopNodeNotFound }

// ParsingError wraps a decoding failure of a descriptor or a record.
type ParsingError struct {
	Format string
	Err    error
}

func (e ParsingError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrParsing, e.Format, e.Err)
}

func (e ParsingError) Unwrap() []error { return []error{ErrParsing, e.Err} }

// ConfigValidationError wraps a runtime configuration validation failure.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("flowplan: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
