package anomaly

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sessionguard/internal/audit"
	auditdomain "sessionguard/internal/audit/domain"
	"sessionguard/internal/policy/engine"
)

// StrikeLog is the slice of the security event log the escalator needs.
type StrikeLog interface {
	audit.Recorder
	CountByCode(ctx context.Context, userID string, code auditdomain.EventCode) (int64, error)
}

// Strike describes a user crossing the anomaly threshold.
type Strike struct {
	UserID    string
	SessionID string
	Count     int64
	Threshold int
	Type      Type
}

// Notifier is told when a user reaches the strike threshold. Delivery is up to the implementation.
type Notifier interface {
	NotifyStrikeThreshold(ctx context.Context, s Strike) error
}

// LogNotifier writes strike notifications to the log.
type LogNotifier struct {
	Log *zap.Logger
}

// NotifyStrikeThreshold implements Notifier.
func (n LogNotifier) NotifyStrikeThreshold(_ context.Context, s Strike) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Warn("strike threshold reached",
		zap.String("user_id", s.UserID),
		zap.String("session_id", s.SessionID),
		zap.Int64("strike_count", s.Count),
		zap.Int("threshold", s.Threshold),
		zap.String("anomaly_type", string(s.Type)),
	)
	return nil
}

// EscalatorConfig configures a StrikeEscalator.
type EscalatorConfig struct {
	Threshold    int
	AutoLockdown bool
}

// StrikeEscalator counts a user's anomalous logins and escalates once the threshold is reached.
// It never revokes sessions itself; a lockdown decision is applied by the caller.
type StrikeEscalator struct {
	events   StrikeLog
	policy   engine.Evaluator
	notifier Notifier
	cfg      EscalatorConfig
	log      *zap.Logger
}

// NewStrikeEscalator returns an escalator. A nil policy falls back to engine.DefaultDecision;
// a nil notifier logs.
func NewStrikeEscalator(events StrikeLog, policy engine.Evaluator, notifier Notifier, cfg EscalatorConfig, log *zap.Logger) *StrikeEscalator {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = 3
	}
	return &StrikeEscalator{
		events:   events,
		policy:   policy,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With(zap.String("component", "strikes")),
	}
}

// Escalate is called after an ANOMALOUS_LOGIN_DETECTED event for userID has been recorded.
// When the policy asks to notify it records STRIKE_THRESHOLD_REACHED and fires the notifier.
// A failed notification is logged and does not fail the escalation.
func (e *StrikeEscalator) Escalate(ctx context.Context, userID, sessionID string, res Result) (engine.EscalationDecision, error) {
	count, err := e.events.CountByCode(ctx, userID, auditdomain.AnomalousLoginDetected)
	if err != nil {
		return engine.EscalationDecision{}, fmt.Errorf("count strikes: %w", err)
	}
	in := engine.EscalationInput{
		UserID:       userID,
		StrikeCount:  count,
		Threshold:    e.cfg.Threshold,
		AutoLockdown: e.cfg.AutoLockdown,
		AnomalyType:  string(res.Type),
	}
	decision := engine.DefaultDecision(in)
	if e.policy != nil {
		// On error the evaluator already returned the default decision.
		decision, _ = e.policy.EvaluateEscalation(ctx, in)
	}
	if !decision.Notify {
		return decision, nil
	}
	meta := map[string]any{
		"strike_count": count,
		"threshold":    e.cfg.Threshold,
		"session_id":   sessionID,
		"anomaly_type": string(res.Type),
		"lockdown":     decision.Lockdown,
	}
	if err := e.events.Record(ctx, userID, auditdomain.StrikeThresholdReached, meta); err != nil {
		return decision, fmt.Errorf("record strike threshold: %w", err)
	}
	strike := Strike{UserID: userID, SessionID: sessionID, Count: count, Threshold: e.cfg.Threshold, Type: res.Type}
	if err := e.notifier.NotifyStrikeThreshold(ctx, strike); err != nil {
		e.log.Warn("strike notification failed", zap.String("user_id", userID), zap.Error(err))
	}
	return decision, nil
}
