package audit

import (
	"context"
	"fmt"
)

// Logger records tools/call audit entries. It never sees argument or
// result payloads — callers pass only the metadata in Record — so there
// is no redaction concern at this layer (§4.8).
type Logger struct {
	db  *DB
	bus *Bus
}

// NewLogger creates an audit Logger. bus is optional (nil-safe) and, when
// set, fans out each recorded entry to live SSE subscribers.
func NewLogger(db *DB, bus *Bus) *Logger {
	return &Logger{db: db, bus: bus}
}

// Record inserts an audit entry and publishes it to the bus.
func (l *Logger) Record(ctx context.Context, rec *Record) error {
	if err := l.db.Insert(ctx, rec); err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	if l.bus != nil {
		l.bus.Publish(rec)
	}
	return nil
}
