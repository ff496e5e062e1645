// Package engine evaluates the strike-escalation policy with OPA Rego.
package engine

import "context"

// EscalationInput is the document passed to the policy as input.
type EscalationInput struct {
	UserID       string `json:"user_id"`
	StrikeCount  int64  `json:"strike_count"`
	Threshold    int    `json:"threshold"`
	AutoLockdown bool   `json:"auto_lockdown"`
	AnomalyType  string `json:"anomaly_type"`
}

// EscalationDecision is what the policy asks the caller to do.
type EscalationDecision struct {
	// Notify fires the Notifier hook and records STRIKE_THRESHOLD_REACHED. The default policy sets it
	// only on the strike that reaches the threshold.
	Notify bool
	// Lockdown blocks the offending session pending re-authentication.
	Lockdown bool
}

// Evaluator decides how to escalate a user's accumulated anomaly strikes.
type Evaluator interface {
	EvaluateEscalation(ctx context.Context, in EscalationInput) (EscalationDecision, error)
}

// DefaultDecision is the built-in rule used when policy evaluation fails: notify on the strike that
// reaches the threshold, and with auto-lockdown enabled lock down every strike from there on.
func DefaultDecision(in EscalationInput) EscalationDecision {
	if in.Threshold <= 0 {
		return EscalationDecision{}
	}
	reached := in.StrikeCount >= int64(in.Threshold)
	return EscalationDecision{
		Notify:   in.StrikeCount == int64(in.Threshold),
		Lockdown: reached && in.AutoLockdown,
	}
}
