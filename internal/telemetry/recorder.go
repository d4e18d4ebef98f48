package telemetry

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"

	"github.com/honkhq/honk/internal/events"
)

const loggerName = "honk"

// emit sends an OTel log event with the given body and key-value attributes.
// Without Init the global logger provider drops it.
func emit(ctx context.Context, ts time.Time, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	if !ts.IsZero() {
		r.SetTimestamp(ts)
	}
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// RecordSignal logs one cleanup outcome, so every SIGTERM the watchdog
// sends is visible next to its metrics.
func RecordSignal(ctx context.Context, pid int, action, reason string) {
	sev := otellog.SeverityInfo
	switch action {
	case "failed":
		sev = otellog.SeverityError
	case "permission_denied":
		sev = otellog.SeverityWarn
	}
	emit(ctx, time.Time{}, "pty.signal", sev,
		otellog.Int("pid", pid),
		otellog.String("action", action),
		otellog.String("reason", reason),
	)
}

// EventLog forwards the watchdog event stream to OTel logs.
type EventLog struct{}

// Emit implements events.Emitter.
func (EventLog) Emit(e events.Event) error {
	kvs := []otellog.KeyValue{otellog.Int64("scan_number", e.ScanNumber)}
	add := func(key string, v *int) {
		if v != nil {
			kvs = append(kvs, otellog.Int(key, *v))
		}
	}
	add("total_ptys", e.TotalPTYs)
	add("process_count", e.ProcessCount)
	add("max_ptys", e.MaxPTYs)
	add("candidates", e.Candidates)
	add("killed_count", e.KilledCount)
	add("freed_ptys", e.FreedPTYs)
	if e.PlanOnly {
		kvs = append(kvs, otellog.Bool("plan_only", true))
	}

	sev := otellog.SeverityInfo
	if e.Type == events.TypeThresholdExceeded {
		sev = otellog.SeverityWarn
	}
	emit(context.Background(), e.Timestamp, "pty."+string(e.Type), sev, kvs...)
	return nil
}
