package dialog

import "fmt"

// ConditionOp is the comparison applied by a Condition.
type ConditionOp string

const (
	OpEquals    ConditionOp = "equals"
	OpNotEquals ConditionOp = "notEquals"
	OpExists    ConditionOp = "exists"
	OpNotExists ConditionOp = "notExists"
	OpIn        ConditionOp = "in"
	OpNotIn     ConditionOp = "notIn"
)

// Condition is a predicate over accumulated flow data, used by skipIf.
type Condition struct {
	Var    string      `json:"var"`
	Op     ConditionOp `json:"op"`
	Value  string      `json:"value,omitempty"`
	Values []string    `json:"values,omitempty"`
}

// Validate checks that the condition can be evaluated.
func (c Condition) Validate() error {
	if c.Var == "" {
		return fmt.Errorf("condition: var is required")
	}
	switch c.Op {
	case OpEquals, OpNotEquals, OpExists, OpNotExists:
	case OpIn, OpNotIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("condition %s: values are required", c.Op)
		}
	default:
		return fmt.Errorf("condition: unknown op %q", c.Op)
	}
	return nil
}

// Holds evaluates the condition against data. Unknown operators never hold.
func (c Condition) Holds(data FlowData) bool {
	v, ok := data.Lookup(c.Var)
	switch c.Op {
	case OpExists:
		return ok && v != ""
	case OpNotExists:
		return !ok || v == ""
	case OpEquals:
		return ok && v == c.Value
	case OpNotEquals:
		return !ok || v != c.Value
	case OpIn:
		return ok && contains(c.Values, v)
	case OpNotIn:
		return !ok || !contains(c.Values, v)
	}
	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
