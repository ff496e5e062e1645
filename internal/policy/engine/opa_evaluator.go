package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const escalationQuery = "data.sessionguard.escalation.decision"

// DefaultEscalationPolicy mirrors DefaultDecision.
const DefaultEscalationPolicy = `package sessionguard.escalation

default notify := false

default lockdown := false

notify if {
	input.threshold > 0
	input.strike_count == input.threshold
}

lockdown if {
	input.threshold > 0
	input.strike_count >= input.threshold
	input.auto_lockdown
}

decision := {"notify": notify, "lockdown": lockdown}
`

// OPAEvaluator evaluates the escalation policy with a prepared Rego query.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

var _ Evaluator = (*OPAEvaluator)(nil)

// NewOPAEvaluator compiles source (DefaultEscalationPolicy when empty) and prepares the decision query.
func NewOPAEvaluator(ctx context.Context, source string, log *zap.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if source == "" {
		source = DefaultEscalationPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"escalation.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile escalation policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(escalationQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare escalation policy: %w", err)
	}
	return &OPAEvaluator{query: pq, log: log.With(zap.String("component", "policy"))}, nil
}

// LoadOPAEvaluator reads a Rego module from path. An empty path uses the default policy.
func LoadOPAEvaluator(ctx context.Context, path string, log *zap.Logger) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", log)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escalation policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b), log)
}

// HealthCheck evaluates the prepared query against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, EscalationInput{Threshold: 1})
	return err
}

// EvaluateEscalation evaluates the policy. On evaluation failure it logs and returns DefaultDecision
// together with the error so callers can record it.
func (e *OPAEvaluator) EvaluateEscalation(ctx context.Context, in EscalationInput) (EscalationDecision, error) {
	out, err := e.eval(ctx, in)
	if err != nil {
		e.log.Warn("escalation policy evaluation failed, using defaults", zap.String("user_id", in.UserID), zap.Error(err))
		return DefaultDecision(in), err
	}
	return out, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, in EscalationInput) (EscalationDecision, error) {
	input := map[string]interface{}{
		"user_id":       in.UserID,
		"strike_count":  in.StrikeCount,
		"threshold":     in.Threshold,
		"auto_lockdown": in.AutoLockdown,
		"anomaly_type":  in.AnomalyType,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return EscalationDecision{}, fmt.Errorf("eval escalation policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return EscalationDecision{}, fmt.Errorf("escalation policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return EscalationDecision{}, fmt.Errorf("escalation decision has type %T", rs[0].Expressions[0].Value)
	}
	var out EscalationDecision
	if v, ok := doc["notify"].(bool); ok {
		out.Notify = v
	}
	if v, ok := doc["lockdown"].(bool); ok {
		out.Lockdown = v
	}
	return out, nil
}
