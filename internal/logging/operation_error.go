package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// StagedError is implemented by errors that know which pipeline state they
// were raised in.
type StagedError interface {
	error
	StageName() string
}

// OperationError annotates an error with the operation, analysis and
// pipeline stage it belongs to.
type OperationError struct {
	Operation  string
	AnalysisID string
	Stage      string // empty when the failure happened outside the pipeline
	Err        error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var tags []string
	if e.AnalysisID != "" {
		tags = append(tags, "analysis_id="+e.AnalysisID)
	}
	if e.Stage != "" {
		tags = append(tags, "stage="+e.Stage)
	}
	if len(tags) == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Operation, strings.Join(tags, ", "), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields returns the error as structured log fields.
func (e *OperationError) Fields() []zap.Field {
	fields := []zap.Field{zap.String("operation", e.Operation)}
	if e.AnalysisID != "" {
		fields = append(fields, zap.String("analysis_id", e.AnalysisID))
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	return append(fields, zap.Error(e.Err))
}

// NewOperationError wraps err; it returns nil for a nil err. The stage is
// taken from the first StagedError in err's chain.
func NewOperationError(operation, analysisID string, err error) error {
	if err == nil {
		return nil
	}
	oe := &OperationError{Operation: operation, AnalysisID: analysisID, Err: err}
	var se StagedError
	if errors.As(err, &se) {
		oe.Stage = se.StageName()
	}
	return oe
}

// LogError logs err at error level. An OperationError in its chain is
// expanded into fields.
func LogError(logger *zap.Logger, msg string, err error) {
	var oe *OperationError
	if errors.As(err, &oe) {
		logger.Error(msg, oe.Fields()...)
		return
	}
	logger.Error(msg, zap.Error(err))
}
