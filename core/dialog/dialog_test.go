package dialog

import (
	"errors"
	"testing"
)

func TestRenderSubstitutesKnownVariables(t *testing.T) {
	got := Render("Hi {{name}}!", FlowData{"name": "Anna"})
	if got != "Hi Anna!" {
		t.Fatalf("render = %q, want %q", got, "Hi Anna!")
	}
}

func TestRenderLeavesMissingVariablesLiteral(t *testing.T) {
	got := Render("Hello {{missing}}, {{ name }}", FlowData{"name": "Bo"})
	if got != "Hello {{missing}}, Bo" {
		t.Fatalf("render = %q", got)
	}
	if got := Render("{{missing}}", nil); got != "{{missing}}" {
		t.Fatalf("render with nil data = %q", got)
	}
}

func TestRenderFormatsArraysAndNumbers(t *testing.T) {
	data := FlowData{"tags": []any{"a", "b"}, "age": float64(31)}
	got := Render("{{tags}} / {{age}}", data)
	if got != "a, b / 31" {
		t.Fatalf("render = %q", got)
	}
}

func TestPlaceholdersDeduplicates(t *testing.T) {
	got := Placeholders("{{a}} {{b}} {{ a }}")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("placeholders = %v", got)
	}
}

func TestParseActionVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want Action
	}{
		{`{"type":"cancelFlow","message":"bye"}`, CancelFlow{Message: "bye"}},
		{`{"type":"startFlow","flowId":3}`, StartFlow{FlowID: 3}},
		{`{"type":"sendMessage","message":"hi"}`, SendMessage{Message: "hi"}},
		{`{"type":"sendFlowInvitation","flowId":2,"message":"join?"}`, SendFlowInvitation{FlowID: 2, Message: "join?"}},
	}
	for _, tc := range cases {
		got, err := ParseAction([]byte(tc.raw))
		if err != nil {
			t.Fatalf("parse %s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parse %s = %#v, want %#v", tc.raw, got, tc.want)
		}
		raw, err := MarshalAction(got)
		if err != nil {
			t.Fatalf("marshal %#v: %v", got, err)
		}
		again, err := ParseAction(raw)
		if err != nil || again != got {
			t.Fatalf("round trip %#v -> %s -> %#v (%v)", got, raw, again, err)
		}
	}
}

func TestParseActionRejectsInvalidDocuments(t *testing.T) {
	if a, err := ParseAction(nil); a != nil || err != nil {
		t.Fatalf("empty document = %v, %v", a, err)
	}
	if _, err := ParseAction([]byte(`{"type":"explode"}`)); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("unknown type err = %v", err)
	}
	if _, err := ParseAction([]byte(`{"type":"sendMessage"}`)); err == nil {
		t.Fatal("sendMessage without message should fail")
	}
}

func TestRuleChecks(t *testing.T) {
	email := &Rule{Kind: RuleRegex, Pattern: `^[^@\s]+@[^@\s]+$`}
	if err := email.Compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !email.Check("a@b.c") || email.Check("nope") {
		t.Fatal("regex rule mismatch")
	}

	enum := &Rule{Kind: RuleEnum, Values: []string{"Yes", "No"}}
	if !enum.Check("yes") || enum.Check("maybe") {
		t.Fatal("enum rule mismatch")
	}

	min, max := 1.0, 10.0
	num := &Rule{Kind: RuleNumber, Min: &min, Max: &max}
	if !num.Check("2,5") || num.Check("11") || num.Check("x") {
		t.Fatal("number rule mismatch")
	}

	date := &Rule{Kind: RuleDate}
	if !date.Check("2024-03-01") || !date.Check("1.3.2024") || date.Check("tomorrow") {
		t.Fatal("date rule mismatch")
	}

	bad := &Rule{Kind: RuleRegex, Pattern: "("}
	if err := bad.Compile(); err == nil {
		t.Fatal("expected compile error for invalid regex")
	}
}

func TestConditionHolds(t *testing.T) {
	data := FlowData{"plan": "pro", "empty": ""}
	cases := []struct {
		cond Condition
		want bool
	}{
		{Condition{Var: "plan", Op: OpEquals, Value: "pro"}, true},
		{Condition{Var: "plan", Op: OpNotEquals, Value: "pro"}, false},
		{Condition{Var: "plan", Op: OpIn, Values: []string{"free", "pro"}}, true},
		{Condition{Var: "plan", Op: OpNotIn, Values: []string{"free"}}, true},
		{Condition{Var: "missing", Op: OpExists}, false},
		{Condition{Var: "empty", Op: OpNotExists}, true},
		{Condition{Var: "plan", Op: "bogus"}, false},
	}
	for _, tc := range cases {
		if got := tc.cond.Holds(data); got != tc.want {
			t.Fatalf("%+v holds = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestParseStepConfigValidatesAtLoad(t *testing.T) {
	cfg, err := ParseStepConfig([]byte(`{"saveAs":"user_name","validate":{"kind":"regex","pattern":"^[A-Z]"},"skipIf":{"var":"x","op":"exists"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SaveAs != "user_name" || cfg.Validate == nil || !cfg.Validate.Check("Anna") {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := ParseStepConfig([]byte(`{"validate":{"kind":"regex","pattern":"("}}`)); err == nil {
		t.Fatal("expected error for invalid rule")
	}
	if _, err := ParseStepConfig([]byte(`{"skipIf":{"var":"x","op":"nope"}}`)); err == nil {
		t.Fatal("expected error for invalid condition")
	}
}

func TestSessionStateAndClone(t *testing.T) {
	s := NewSession(7)
	if s.State() != StateIdle || !s.DialogOpen {
		t.Fatalf("new session = %+v", s)
	}
	s.FlowID, s.StepID = 1, 2
	if s.State() != StateInFlow {
		t.Fatal("expected in-flow state")
	}
	s.Data["k"] = "v"
	c := s.Clone()
	c.Data["k"] = "changed"
	if s.Data["k"] != "v" {
		t.Fatal("clone aliases data")
	}
	s.Leave()
	if s.State() != StateIdle || s.Data["k"] != "v" {
		t.Fatalf("leave = %+v", s)
	}
}

func TestErrorTaxonomyMatchesSentinels(t *testing.T) {
	var err error = &FlowConfigError{FlowID: 1, Message: "x"}
	if !errors.Is(err, ErrFlowConfig) {
		t.Fatal("flow config error should match sentinel")
	}
	err = &PersistenceError{Op: "save", ClientID: 1, Err: errors.New("down")}
	if !errors.Is(err, ErrPersistence) {
		t.Fatal("persistence error should match sentinel")
	}
	err = &CommandPatternError{CommandID: 1, Pattern: "(", Err: errors.New("bad")}
	if !errors.Is(err, ErrCommandPattern) {
		t.Fatal("pattern error should match sentinel")
	}
}
