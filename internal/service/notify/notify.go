// Package notify delivers user-facing error reports.
package notify

import (
	"context"
	"log/slog"
	"sync"

	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/metrics"
)

// LogNotifier reports errors through the structured logger
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier writing to logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ReportError(ctx context.Context, message string) {
	metrics.RecordReportedError()
	n.logger.ErrorContext(ctx, "user-visible error", "message", message)
}

// Recorder keeps every report in memory
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) ReportError(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of the reports so far
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Count returns the number of reports so far
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Fanout forwards every report to each notifier in order
type Fanout []svc.Notifier

func (f Fanout) ReportError(ctx context.Context, message string) {
	for _, n := range f {
		n.ReportError(ctx, message)
	}
}

var (
	_ svc.Notifier = (*LogNotifier)(nil)
	_ svc.Notifier = (*Recorder)(nil)
	_ svc.Notifier = Fanout(nil)
)
