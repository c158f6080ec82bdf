// Package eventlog adapts reconciliation events to zap and to console progress lines.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	messageFallback          = "foreign key fell back to default"
	messageTimestampFallback = "timestamp fell back to clock"
	messageFailure           = "record failed"
	messageOrphan            = "destination record has no source row"
	messageCorrection        = "party references corrected"
	messageSkipped           = "record already present"
	messageBatch             = "migration batch done"
)

// Logger implements reconcile.EventLogger.
type Logger struct {
	logger   *zap.Logger
	progress io.Writer
}

// New returns a Logger. A nil progress writer disables console progress lines.
func New(logger *zap.Logger, progress io.Writer) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, progress: progress}
}

func (eventLogger *Logger) LogEvent(_ context.Context, event reconcile.Event) {
	level, message := classify(event.Kind)
	if checked := eventLogger.logger.Check(level, message); checked != nil {
		checked.Write(fields(event)...)
	}
	if event.Kind == reconcile.EventBatch && eventLogger.progress != nil {
		fmt.Fprintf(eventLogger.progress, "  progress: %d/%d\n", event.Processed, event.Total)
	}
}

func classify(kind reconcile.EventKind) (zapcore.Level, string) {
	switch kind {
	case reconcile.EventFallback:
		return zapcore.WarnLevel, messageFallback
	case reconcile.EventTimestampFallback:
		return zapcore.WarnLevel, messageTimestampFallback
	case reconcile.EventFailure:
		return zapcore.ErrorLevel, messageFailure
	case reconcile.EventOrphan:
		return zapcore.WarnLevel, messageOrphan
	case reconcile.EventCorrection:
		return zapcore.InfoLevel, messageCorrection
	case reconcile.EventSkipped:
		return zapcore.InfoLevel, messageSkipped
	case reconcile.EventBatch:
		return zapcore.InfoLevel, messageBatch
	default:
		return zapcore.InfoLevel, string(kind)
	}
}

func fields(event reconcile.Event) []zap.Field {
	result := []zap.Field{zap.String("event", string(event.Kind))}
	if event.Operation != "" {
		result = append(result, zap.String("operation", event.Operation))
	}
	if event.Role != "" {
		result = append(result, zap.String("role", event.Role.String()))
	}
	if event.Entity != "" {
		result = append(result, zap.String("entity", event.Entity.String()))
	}
	if event.LegacyID != reconcile.UnattributedLegacyID {
		result = append(result, zap.Int64("legacy_id", event.LegacyID.Int64()))
	}
	if event.ReferenceID != reconcile.UnattributedLegacyID {
		result = append(result, zap.Int64("reference_id", event.ReferenceID.Int64()))
	}
	if !event.NewID.IsZero() {
		result = append(result, zap.String("new_id", event.NewID.String()))
	}
	if event.Field != "" {
		result = append(result, zap.String("field", event.Field))
	}
	if len(event.IDs) > 0 {
		result = append(result, zap.Int("id_count", len(event.IDs)), zap.String("ids", joinIDs(event.IDs)))
	}
	if event.Total > 0 {
		result = append(result, zap.Int("processed", event.Processed), zap.Int("total", event.Total))
	}
	if event.Error != nil {
		result = append(result, zap.Error(event.Error))
	}
	return result
}

func joinIDs(ids []reconcile.LegacyID) string {
	buffer := make([]byte, 0, len(ids)*6)
	for index, id := range ids {
		if index > 0 {
			buffer = append(buffer, ',')
		}
		buffer = strconv.AppendInt(buffer, id.Int64(), 10)
	}
	return string(buffer)
}
