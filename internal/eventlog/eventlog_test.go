package eventlog

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogEventLevelsAndFields(test *testing.T) {
	test.Parallel()
	core, observed := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core), nil)
	fallbackID := reconcile.GenerateNewID()

	logger.LogEvent(context.Background(), reconcile.Event{
		Kind:        reconcile.EventFallback,
		Operation:   "resolve_foreign_key",
		Entity:      reconcile.EntityAccount,
		LegacyID:    500,
		ReferenceID: 999,
		NewID:       fallbackID,
	})
	logger.LogEvent(context.Background(), reconcile.Event{
		Kind:  reconcile.EventFailure,
		Role:  reconcile.RoleSupplier,
		IDs:   []reconcile.LegacyID{2, 3},
		Error: errors.New("boom"),
	})

	entries := observed.AllUntimed()
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fallback := entries[0]
	if fallback.Level != zapcore.WarnLevel || fallback.Message != messageFallback {
		test.Fatalf("unexpected fallback entry: %+v", fallback.Entry)
	}
	fallbackFields := fallback.ContextMap()
	if fallbackFields["entity"] != "account" || fallbackFields["legacy_id"] != int64(500) || fallbackFields["reference_id"] != int64(999) || fallbackFields["new_id"] != fallbackID.String() {
		test.Fatalf("unexpected fallback fields: %+v", fallbackFields)
	}
	failure := entries[1]
	if failure.Level != zapcore.ErrorLevel || failure.ContextMap()["ids"] != "2,3" || failure.ContextMap()["error"] != "boom" {
		test.Fatalf("unexpected failure entry: %+v", failure.ContextMap())
	}
}

func TestBatchEventsWriteProgress(test *testing.T) {
	test.Parallel()
	var progress bytes.Buffer
	logger := New(zap.NewNop(), &progress)
	logger.LogEvent(context.Background(), reconcile.Event{Kind: reconcile.EventBatch, Processed: 50, Total: 120})
	logger.LogEvent(context.Background(), reconcile.Event{Kind: reconcile.EventSkipped, LegacyID: 4})
	if progress.String() != "  progress: 50/120\n" {
		test.Fatalf("unexpected progress output: %q", progress.String())
	}
}

func TestNewToleratesNilLogger(test *testing.T) {
	test.Parallel()
	logger := New(nil, nil)
	logger.LogEvent(context.Background(), reconcile.Event{Kind: reconcile.EventCorrection})
}
