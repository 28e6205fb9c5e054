package dialog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RuleKind selects how a Rule constrains a text answer.
type RuleKind string

const (
	RuleRegex  RuleKind = "regex"
	RuleEnum   RuleKind = "enum"
	RuleDate   RuleKind = "date"
	RuleNumber RuleKind = "number"
)

// Rule constrains text answers. Only the fields of its Kind are used.
// Compile must succeed before Check is called.
type Rule struct {
	Kind          RuleKind `json:"kind"`
	Pattern       string   `json:"pattern,omitempty"`
	Values        []string `json:"values,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`

	re *regexp.Regexp
}

// Compile validates the rule and prepares its matcher.
func (r *Rule) Compile() error {
	switch r.Kind {
	case RuleRegex:
		if r.Pattern == "" {
			return fmt.Errorf("regex rule: pattern is required")
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("regex rule: %w", err)
		}
		r.re = re
	case RuleEnum:
		if len(r.Values) == 0 {
			return fmt.Errorf("enum rule: values are required")
		}
	case RuleNumber:
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("number rule: min %v > max %v", *r.Min, *r.Max)
		}
	case RuleDate:
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

// Check reports whether s satisfies the rule.
func (r *Rule) Check(s string) bool {
	s = strings.TrimSpace(s)
	switch r.Kind {
	case RuleRegex:
		if r.re == nil {
			if err := r.Compile(); err != nil {
				return false
			}
		}
		return r.re.MatchString(s)
	case RuleEnum:
		for _, v := range r.Values {
			if r.CaseSensitive && v == s {
				return true
			}
			if !r.CaseSensitive && strings.EqualFold(v, s) {
				return true
			}
		}
		return false
	case RuleDate:
		_, ok := ParseFlexibleDate(s)
		return ok
	case RuleNumber:
		n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return false
		}
		if r.Min != nil && n < *r.Min {
			return false
		}
		if r.Max != nil && n > *r.Max {
			return false
		}
		return true
	}
	return false
}

var flexibleDateLayouts = []string{
	"2006-01-02 15:04",
	"2006-1-2 15:04",
	"2006-01-02",
	"2006-1-2",
	"02.01.2006 15:04",
	"2.1.2006 15:04",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
}

// ParseFlexibleDate tries the date layouts users commonly type in chat.
func ParseFlexibleDate(input string) (time.Time, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
