package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error types for different categories of failures
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeComputation   ErrorType = "computation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeDataset       ErrorType = "dataset"
	ErrorTypeExtraction    ErrorType = "extraction"
)

// Sentinel kinds. Match them with errors.Is.
var (
	// ErrExtractionSkipped marks a sample whose template could not be extracted.
	ErrExtractionSkipped = stderrors.New("template extraction skipped")
	// ErrEmptyClass marks a rate whose denominator is zero because the dataset
	// has no genuine or no impostor pairs.
	ErrEmptyClass = stderrors.New("empty pair class")
	// ErrMatrixUnavailable marks a persisted distance matrix that is missing,
	// truncated or does not belong to the current dataset.
	ErrMatrixUnavailable = stderrors.New("distance matrix unavailable")
	// ErrTaskFailed marks a pair or threshold task that faulted.
	ErrTaskFailed = stderrors.New("task failed")
	// ErrExtractorUnavailable marks an extractor that is refusing calls after
	// repeated failures. Extraction stops instead of skipping every sample.
	ErrExtractorUnavailable = stderrors.New("extractor unavailable")
	// ErrDatasetMismatch marks a matrix that disagrees with the record set.
	ErrDatasetMismatch = stderrors.New("dataset mismatch")
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, this function and the constructor
	return pcs[:n]
}

// NewValidationError creates a validation error
func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

// NewStorageError creates a storage error
func NewStorageError(operation, message string) *StructuredError {
	return New(ErrorTypeStorage, operation, message)
}

// NewComputationError creates a computation error
func NewComputationError(operation, message string) *StructuredError {
	return New(ErrorTypeComputation, operation, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewDatasetError creates a dataset error
func NewDatasetError(operation, message string) *StructuredError {
	return New(ErrorTypeDataset, operation, message)
}

// WrapStorageError wraps an error as a storage error
func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}

// WrapComputationError wraps an error as a computation error
func WrapComputationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeComputation, operation, message)
}

// WrapDatasetError wraps an error as a dataset error
func WrapDatasetError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeDataset, operation, message)
}

// WrapExtractionError wraps an error as an extraction error
func WrapExtractionError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeExtraction, operation, message)
}

// TaskError identifies the unit of work that faulted inside a worker pool.
type TaskError struct {
	Phase string // "pairwise" or "sweep"
	Unit  string // e.g. "pair(3,17)" or "threshold=0.320000"
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task %s failed: %v", e.Phase, e.Unit, e.Cause)
}

func (e *TaskError) Unwrap() []error {
	return []error{ErrTaskFailed, e.Cause}
}

// NewTaskError creates a task error.
func NewTaskError(phase, unit string, cause error) *TaskError {
	return &TaskError{Phase: phase, Unit: unit, Cause: cause}
}

// maxReportedTasks bounds how many task errors are kept verbatim.
const maxReportedTasks = 16

// PartialError reports an aggregate that is missing the results of failed tasks.
type PartialError struct {
	Phase     string
	Failed    int
	Total     int
	Tasks     []*TaskError
	Truncated bool
}

// NewPartialError builds a PartialError, keeping at most a bounded number of
// task errors verbatim.
func NewPartialError(phase string, total int, tasks []*TaskError) *PartialError {
	pe := &PartialError{Phase: phase, Failed: len(tasks), Total: total}
	if len(tasks) > maxReportedTasks {
		pe.Tasks = tasks[:maxReportedTasks]
		pe.Truncated = true
	} else {
		pe.Tasks = tasks
	}
	return pe
}

func (e *PartialError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: partial result, %d of %d tasks failed", e.Phase, e.Failed, e.Total)
	for _, t := range e.Tasks {
		b.WriteString("; ")
		b.WriteString(t.Error())
	}
	if e.Truncated {
		b.WriteString("; ...")
	}
	return b.String()
}

func (e *PartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Tasks)+1)
	errs = append(errs, ErrTaskFailed)
	for _, t := range e.Tasks {
		errs = append(errs, t)
	}
	return errs
}
