package models

import (
	"fmt"
	"math"
	"sort"

	"github.com/JongoDB/ems-cop-sub001/pkg/utils"
)

// Stage config keys as they appear on the wire
const (
	ConfigKeyRequiredRole          = "required_role"
	ConfigKeyAutoApproveConditions = "auto_approve_conditions"
	ConfigKeyExpression            = "expression"
	ConfigKeyEscalationTimeout     = "escalation_timeout_minutes"
	ConfigKeyChannel               = "channel"
	ConfigKeyTemplate              = "template"
	ConfigKeyRecipients            = "recipients"
)

// Comparison operators allowed in auto_approve_conditions
const (
	ThresholdLTE = "lte"
	ThresholdGTE = "gte"
	ThresholdLT  = "lt"
	ThresholdGT  = "gt"
	ThresholdEQ  = "eq"
)

// StageConfig is the typed form of a stage's open config map
type StageConfig interface {
	StageType() StageType
}

// RoleGuarded is implemented by configs that may restrict who can act
type RoleGuarded interface {
	Role() string
}

// ActionConfig configures an action stage
type ActionConfig struct {
	RequiredRole string
}

func (ActionConfig) StageType() StageType { return StageTypeAction }
func (c ActionConfig) Role() string       { return c.RequiredRole }

// Threshold is one numeric comparison against a context field
type Threshold struct {
	Field    string
	Operator string
	Value    float64
}

// Holds reports whether the context satisfies the threshold. A missing
// or non-numeric field never holds.
func (t Threshold) Holds(ctx map[string]interface{}) bool {
	raw, ok := ctx[t.Field]
	if !ok {
		return false
	}
	v, ok := utils.ToFloat(raw)
	if !ok {
		return false
	}
	switch t.Operator {
	case ThresholdLTE:
		return v <= t.Value
	case ThresholdGTE:
		return v >= t.Value
	case ThresholdLT:
		return v < t.Value
	case ThresholdGT:
		return v > t.Value
	case ThresholdEQ:
		return v == t.Value
	}
	return false
}

// ApprovalConfig configures an approval stage
type ApprovalConfig struct {
	RequiredRole             string
	AutoApproveConditions    []Threshold
	EscalationTimeoutMinutes int
}

func (ApprovalConfig) StageType() StageType { return StageTypeApproval }
func (c ApprovalConfig) Role() string       { return c.RequiredRole }

// AutoApproves reports whether every auto-approve condition holds.
// An approval stage without conditions never auto-approves.
func (c ApprovalConfig) AutoApproves(ctx map[string]interface{}) bool {
	if len(c.AutoApproveConditions) == 0 {
		return false
	}
	for _, t := range c.AutoApproveConditions {
		if !t.Holds(ctx) {
			return false
		}
	}
	return true
}

// ConditionConfig configures a condition stage
type ConditionConfig struct {
	Expression string
}

func (ConditionConfig) StageType() StageType { return StageTypeCondition }

// NotificationConfig configures a notification stage. Raw keeps the full map
// so the published event carries whatever the definition author supplied.
type NotificationConfig struct {
	Channel    string
	Template   string
	Recipients []string
	Raw        map[string]interface{}
}

func (NotificationConfig) StageType() StageType { return StageTypeNotification }

// TimerConfig configures a timer stage
type TimerConfig struct {
	RequiredRole             string
	EscalationTimeoutMinutes int
}

func (TimerConfig) StageType() StageType { return StageTypeTimer }
func (c TimerConfig) Role() string       { return c.RequiredRole }

// TerminalConfig configures a terminal stage
type TerminalConfig struct{}

func (TerminalConfig) StageType() StageType { return StageTypeTerminal }

// ConfigError describes a malformed stage config value
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config.%s: %s", e.Key, e.Message)
}

// ParseStageConfig converts the open config map into the typed variant for stageType
func ParseStageConfig(stageType StageType, raw map[string]interface{}) (StageConfig, error) {
	switch stageType {
	case StageTypeAction:
		role, err := optionalString(raw, ConfigKeyRequiredRole)
		if err != nil {
			return nil, err
		}
		return ActionConfig{RequiredRole: role}, nil

	case StageTypeApproval:
		role, err := optionalString(raw, ConfigKeyRequiredRole)
		if err != nil {
			return nil, err
		}
		conds, err := parseThresholds(raw[ConfigKeyAutoApproveConditions])
		if err != nil {
			return nil, err
		}
		timeout, err := optionalMinutes(raw, ConfigKeyEscalationTimeout)
		if err != nil {
			return nil, err
		}
		return ApprovalConfig{RequiredRole: role, AutoApproveConditions: conds, EscalationTimeoutMinutes: timeout}, nil

	case StageTypeCondition:
		expr, err := optionalString(raw, ConfigKeyExpression)
		if err != nil {
			return nil, err
		}
		return ConditionConfig{Expression: expr}, nil

	case StageTypeNotification:
		channel, err := optionalString(raw, ConfigKeyChannel)
		if err != nil {
			return nil, err
		}
		tmpl, err := optionalString(raw, ConfigKeyTemplate)
		if err != nil {
			return nil, err
		}
		recipients, err := optionalStrings(raw, ConfigKeyRecipients)
		if err != nil {
			return nil, err
		}
		return NotificationConfig{Channel: channel, Template: tmpl, Recipients: recipients, Raw: raw}, nil

	case StageTypeTimer:
		role, err := optionalString(raw, ConfigKeyRequiredRole)
		if err != nil {
			return nil, err
		}
		timeout, err := optionalMinutes(raw, ConfigKeyEscalationTimeout)
		if err != nil {
			return nil, err
		}
		return TimerConfig{RequiredRole: role, EscalationTimeoutMinutes: timeout}, nil

	case StageTypeTerminal:
		return TerminalConfig{}, nil
	}
	return nil, &ConfigError{Key: "stage_type", Message: fmt.Sprintf("unknown stage type %q", stageType)}
}

// TypedConfig parses the stage's config map
func (s *Stage) TypedConfig() (StageConfig, error) {
	return ParseStageConfig(s.Type, s.Config)
}

// RequiredRole returns the role guarding this stage, or "" when anyone may act
func (s *Stage) RequiredRole() string {
	cfg, err := s.TypedConfig()
	if err != nil {
		// fall back to the raw key so a malformed unrelated field does not drop the guard
		role, _ := s.Config[ConfigKeyRequiredRole].(string)
		return role
	}
	if g, ok := cfg.(RoleGuarded); ok {
		return g.Role()
	}
	return ""
}

func optionalString(raw map[string]interface{}, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ConfigError{Key: key, Message: "must be a string"}
	}
	return s, nil
}

func optionalStrings(raw map[string]interface{}, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &ConfigError{Key: key, Message: "must be a list of strings"}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &ConfigError{Key: key, Message: "must be a list of strings"}
}

func optionalMinutes(raw map[string]interface{}, key string) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := utils.ToFloat(v)
	if !ok || f < 1 || f != math.Trunc(f) {
		return 0, &ConfigError{Key: key, Message: "must be a whole number of minutes, at least 1"}
	}
	return int(f), nil
}

// parseThresholds reads {field: {op: threshold}} into a deterministic list
func parseThresholds(v interface{}) ([]Threshold, error) {
	if v == nil {
		return nil, nil
	}
	fields, ok := v.(map[string]interface{})
	if !ok {
		return nil, &ConfigError{Key: ConfigKeyAutoApproveConditions, Message: "must be an object"}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Threshold
	for _, name := range names {
		ops, ok := fields[name].(map[string]interface{})
		if !ok {
			return nil, &ConfigError{Key: ConfigKeyAutoApproveConditions + "." + name, Message: "must be an object of operator to threshold"}
		}
		opNames := make([]string, 0, len(ops))
		for op := range ops {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)

		for _, op := range opNames {
			switch op {
			case ThresholdLTE, ThresholdGTE, ThresholdLT, ThresholdGT, ThresholdEQ:
			default:
				return nil, &ConfigError{Key: ConfigKeyAutoApproveConditions + "." + name, Message: fmt.Sprintf("unknown operator %q", op)}
			}
			threshold, ok := utils.ToFloat(ops[op])
			if !ok {
				return nil, &ConfigError{Key: ConfigKeyAutoApproveConditions + "." + name + "." + op, Message: "threshold must be numeric"}
			}
			out = append(out, Threshold{Field: name, Operator: op, Value: threshold})
		}
	}
	return out, nil
}
