package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"

	"sessionguard/internal/anomaly"
)

const instrumentationName = "sessionguard.strikes"

// recordEmitter is the part of an OTel logger the notifier uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// StrikeNotifier implements anomaly.Notifier: it logs the strike and emits it as an OTel log record
// so the collector receives it next to the login traces.
type StrikeNotifier struct {
	logger recordEmitter
	log    anomaly.LogNotifier
	now    func() time.Time
}

// NewStrikeNotifier returns a StrikeNotifier that emits via the given LoggerProvider.
// If provider is nil, strikes are only logged.
func NewStrikeNotifier(provider *sdklog.LoggerProvider, log *zap.Logger) *StrikeNotifier {
	var logger recordEmitter
	if provider != nil {
		logger = provider.Logger(instrumentationName)
	}
	return NewStrikeNotifierWithLogger(logger, log)
}

// NewStrikeNotifierWithLogger returns a StrikeNotifier over an arbitrary record emitter. For tests.
func NewStrikeNotifierWithLogger(logger recordEmitter, log *zap.Logger) *StrikeNotifier {
	return &StrikeNotifier{logger: logger, log: anomaly.LogNotifier{Log: log}, now: time.Now}
}

// NotifyStrikeThreshold implements anomaly.Notifier. Emission is best-effort and never fails.
func (n *StrikeNotifier) NotifyStrikeThreshold(ctx context.Context, s anomaly.Strike) error {
	_ = n.log.NotifyStrikeThreshold(ctx, s)
	if n.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(n.now().UTC())
	rec.SetSeverity(otellog.SeverityWarn)
	rec.SetSeverityText("WARN")
	rec.SetBody(otellog.StringValue("strike threshold reached"))
	rec.AddAttributes(
		otellog.String("user_id", s.UserID),
		otellog.String("session_id", s.SessionID),
		otellog.Int64("strike_count", s.Count),
		otellog.Int("threshold", s.Threshold),
		otellog.String("anomaly_type", string(s.Type)),
	)
	n.logger.Emit(ctx, rec)
	return nil
}
