package graph

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrStartNodeNotSet is returned when a graph has no start node.
	ErrStartNodeNotSet = errors.New("start node not set")
	// ErrNodeNotFound is returned when a node id is not registered.
	ErrNodeNotFound = errors.New("node not found")
	// ErrDuplicateNode is returned by AddNode for an id already in use.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrInvalidGraph wraps every structural validation failure.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrMissingInput is returned when a node's declared inputs are absent.
	ErrMissingInput = errors.New("missing required input")
	// ErrStepLimitExceeded is returned when an execution runs more nodes than allowed.
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	// ErrExecutionTimeout is returned when an execution exceeds its wall-clock budget.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrRestoreFailed wraps every checkpoint restore failure.
	ErrRestoreFailed = errors.New("checkpoint restore failed")
	// ErrNodeAborted is carried by the failure event of a node whose
	// result was discarded because the execution stopped.
	ErrNodeAborted = errors.New("node aborted")
)

// ErrorKind is the top-level class of an execution failure.
type ErrorKind int

const (
	ErrorKindStructural ErrorKind = iota
	ErrorKindNode
	ErrorKindRouting
	ErrorKindResource
	ErrorKindCheckpoint
	ErrorKindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindStructural:
		return "structural"
	case ErrorKindNode:
		return "node"
	case ErrorKindRouting:
		return "routing"
	case ErrorKindResource:
		return "resource"
	case ErrorKindCheckpoint:
		return "checkpoint"
	case ErrorKindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ExecutionError is the classified error returned when an execution ends
// in Failed or Cancelled.
type ExecutionError struct {
	Kind   ErrorKind
	NodeID string
	Step   int
	Cause  error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s error at node %s (step %d): %v", e.Kind, e.NodeID, e.Step, e.Cause)
	}
	return fmt.Sprintf("%s error (step %d): %v", e.Kind, e.Step, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// StructuralError reports an invalid graph.
type StructuralError struct {
	Report IntegrityReport
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("invalid graph: %s", strings.Join(e.Report.Errors, "; "))
}

func (e *StructuralError) Unwrap() error { return ErrInvalidGraph }

// NodeError is a failure raised by node logic.
type NodeError struct {
	NodeID   string
	Type     ErrorType
	Attempts int
	Cause    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed (%s, attempts=%d): %v", e.NodeID, e.Type, e.Attempts, e.Cause)
}

func (e *NodeError) Unwrap() error { return e.Cause }

// ValidationError is returned before a node runs when declared inputs are missing.
type ValidationError struct {
	NodeID  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %s: missing required input(s) %s", e.NodeID, strings.Join(e.Missing, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrMissingInput }

// EvaluationError is returned when an edge predicate fails or panics.
type EvaluationError struct {
	EdgeID string
	From   string
	To     string
	Cause  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("edge %s -> %s: predicate failed: %v", e.From, e.To, e.Cause)
}

func (e *EvaluationError) Unwrap() error { return e.Cause }

// CheckpointError is returned by checkpoint operations. Restore failures
// also match ErrRestoreFailed.
type CheckpointError struct {
	Op           string
	CheckpointID string
	ExecutionID  string
	Cause        error
}

func (e *CheckpointError) Error() string {
	id := e.CheckpointID
	if id == "" {
		id = "execution " + e.ExecutionID
	}
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, id, e.Cause)
}

func (e *CheckpointError) Unwrap() []error {
	if e.Op == "restore" {
		return []error{ErrRestoreFailed, e.Cause}
	}
	return []error{e.Cause}
}

// ErrorType classifies node failures for recovery policy lookup.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeUnknown    ErrorType = "unknown"
)

type classifiedError struct {
	typ ErrorType
	err error
}

func (c *classifiedError) Error() string { return c.err.Error() }
func (c *classifiedError) Unwrap() error { return c.err }

// Classified tags err with an explicit ErrorType. Node functions use it
// when the default classification cannot infer the right type.
func Classified(typ ErrorType, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{typ: typ, err: err}
}

// DefaultErrorClassifier recognises Classified errors, missing inputs,
// deadlines and net.Error; everything else is ErrorTypeUnknown.
func DefaultErrorClassifier(err error) ErrorType {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.typ
	}
	if errors.Is(err, ErrMissingInput) {
		return ErrorTypeValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}
