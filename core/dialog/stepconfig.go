package dialog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseStepConfig decodes a stored step config document and validates its
// rule and skip condition.
func ParseStepConfig(raw []byte) (StepConfig, error) {
	var cfg StepConfig
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return StepConfig{}, fmt.Errorf("decode step config: %w", err)
	}
	if err := cfg.Prepare(); err != nil {
		return StepConfig{}, err
	}
	return cfg, nil
}

// Prepare compiles the validation rule and checks the skip condition.
func (c *StepConfig) Prepare() error {
	if c.Validate != nil {
		if err := c.Validate.Compile(); err != nil {
			return err
		}
	}
	if c.SkipIf != nil {
		if err := c.SkipIf.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseOptions decodes a stored options array.
func ParseOptions(raw []byte) ([]Option, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var opts []Option
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("decode step options: %w", err)
	}
	return opts, nil
}

// DecodeFlowData decodes a stored flow_data document.
func DecodeFlowData(raw []byte) (FlowData, error) {
	data := FlowData{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode flow data: %w", err)
	}
	return data, nil
}
