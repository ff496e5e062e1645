package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name string
		in   EscalationInput
		want EscalationDecision
	}{
		{"below threshold", EscalationInput{StrikeCount: 2, Threshold: 3, AutoLockdown: true}, EscalationDecision{}},
		{"at threshold", EscalationInput{StrikeCount: 3, Threshold: 3}, EscalationDecision{Notify: true}},
		{"above threshold", EscalationInput{StrikeCount: 7, Threshold: 3}, EscalationDecision{}},
		{"lockdown enabled", EscalationInput{StrikeCount: 3, Threshold: 3, AutoLockdown: true}, EscalationDecision{Notify: true, Lockdown: true}},
		{"lockdown past threshold", EscalationInput{StrikeCount: 5, Threshold: 3, AutoLockdown: true}, EscalationDecision{Lockdown: true}},
		{"zero threshold", EscalationInput{StrikeCount: 3, Threshold: 0, AutoLockdown: true}, EscalationDecision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateEscalation(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("EvaluateEscalation: %v", err)
			}
			if got != tt.want {
				t.Errorf("decision = %+v, want %+v", got, tt.want)
			}
			if def := DefaultDecision(tt.in); def != tt.want {
				t.Errorf("DefaultDecision = %+v, want %+v", def, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicyFromFile(t *testing.T) {
	custom := `package sessionguard.escalation

decision := {"notify": true, "lockdown": input.anomaly_type == "IMPOSSIBLE_TRAVEL"}
`
	path := filepath.Join(t.TempDir(), "escalation.rego")
	if err := os.WriteFile(path, []byte(custom), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := LoadOPAEvaluator(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadOPAEvaluator: %v", err)
	}
	got, err := e.EvaluateEscalation(context.Background(), EscalationInput{StrikeCount: 1, Threshold: 3, AnomalyType: "IMPOSSIBLE_TRAVEL"})
	if err != nil {
		t.Fatalf("EvaluateEscalation: %v", err)
	}
	if !got.Notify || !got.Lockdown {
		t.Errorf("decision = %+v, want notify and lockdown", got)
	}
	got, _ = e.EvaluateEscalation(context.Background(), EscalationInput{AnomalyType: "NEW_DEVICE_QUICK_CHANGE"})
	if got.Lockdown {
		t.Error("lockdown should be false for NEW_DEVICE_QUICK_CHANGE")
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\nallow if {", nil); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := LoadOPAEvaluator(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Fatal("expected read error")
	}
}

func TestOPAEvaluator_PolicyWithoutDecision(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "package sessionguard.escalation\n\nother := 1\n", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	in := EscalationInput{StrikeCount: 5, Threshold: 3, AutoLockdown: true}
	got, err := e.EvaluateEscalation(context.Background(), in)
	if err == nil {
		t.Fatal("expected error for undefined decision")
	}
	if got != DefaultDecision(in) {
		t.Errorf("fallback = %+v, want %+v", got, DefaultDecision(in))
	}
}
