package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStageConfig_Approval(t *testing.T) {
	cfg, err := ParseStageConfig(StageTypeApproval, map[string]interface{}{
		"required_role": "supervisor",
		"auto_approve_conditions": map[string]interface{}{
			"risk_level": map[string]interface{}{"lte": 2},
		},
		"escalation_timeout_minutes": 30.0,
	})
	require.NoError(t, err)

	approval, ok := cfg.(ApprovalConfig)
	require.True(t, ok)
	assert.Equal(t, "supervisor", approval.RequiredRole)
	assert.Equal(t, 30, approval.EscalationTimeoutMinutes)
	require.Len(t, approval.AutoApproveConditions, 1)
	assert.Equal(t, Threshold{Field: "risk_level", Operator: "lte", Value: 2}, approval.AutoApproveConditions[0])
}

func TestParseStageConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		stageType StageType
		raw       map[string]interface{}
	}{
		{"role not a string", StageTypeAction, map[string]interface{}{"required_role": 3}},
		{"negative timeout", StageTypeApproval, map[string]interface{}{"escalation_timeout_minutes": -5}},
		{"sub-minute timeout", StageTypeApproval, map[string]interface{}{"escalation_timeout_minutes": 0.5}},
		{"fractional timeout", StageTypeTimer, map[string]interface{}{"escalation_timeout_minutes": 1.5}},
		{"zero timeout", StageTypeApproval, map[string]interface{}{"escalation_timeout_minutes": 0}},
		{"text timeout", StageTypeTimer, map[string]interface{}{"escalation_timeout_minutes": "soon"}},
		{"unknown operator", StageTypeApproval, map[string]interface{}{
			"auto_approve_conditions": map[string]interface{}{"risk_level": map[string]interface{}{"between": 2}},
		}},
		{"non numeric threshold", StageTypeApproval, map[string]interface{}{
			"auto_approve_conditions": map[string]interface{}{"risk_level": map[string]interface{}{"lte": "low"}},
		}},
		{"expression not a string", StageTypeCondition, map[string]interface{}{"expression": true}},
		{"recipients not a list", StageTypeNotification, map[string]interface{}{"recipients": "ops"}},
		{"unknown stage type", StageType("gateway"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStageConfig(tt.stageType, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestApprovalConfig_AutoApproves(t *testing.T) {
	cfg := ApprovalConfig{AutoApproveConditions: []Threshold{
		{Field: "risk_level", Operator: ThresholdLTE, Value: 2},
		{Field: "amount", Operator: ThresholdLT, Value: 1000},
	}}

	assert.True(t, cfg.AutoApproves(map[string]interface{}{"risk_level": 1, "amount": "250"}))
	assert.False(t, cfg.AutoApproves(map[string]interface{}{"risk_level": 3, "amount": 10}))
	assert.False(t, cfg.AutoApproves(map[string]interface{}{"risk_level": 1}), "missing field fails closed")
	assert.False(t, cfg.AutoApproves(map[string]interface{}{"risk_level": "low", "amount": 10}), "non numeric fails closed")

	assert.False(t, ApprovalConfig{}.AutoApproves(map[string]interface{}{"risk_level": 1}))
}

func TestStage_RequiredRole(t *testing.T) {
	s := &Stage{Type: StageTypeApproval, Config: map[string]interface{}{"required_role": "supervisor"}}
	assert.Equal(t, "supervisor", s.RequiredRole())

	s = &Stage{Type: StageTypeCondition, Config: map[string]interface{}{"required_role": "supervisor"}}
	assert.Equal(t, "", s.RequiredRole())

	s = &Stage{Type: StageTypeNotification, Config: map[string]interface{}{"channel": "email", "recipients": []interface{}{"a", "b"}}}
	cfg, err := s.TypedConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.(NotificationConfig).Recipients)
}

func TestWorkflowDefinition_Navigation(t *testing.T) {
	def := &WorkflowDefinition{
		Stages: []*Stage{
			{ID: "t", Order: 30},
			{ID: "a", Order: 10},
			{ID: "b", Order: 20},
		},
		Transitions: []*Transition{
			{FromStageID: "a", ToStageID: "t", Trigger: TriggerOnComplete},
			{FromStageID: "a", ToStageID: "b", Trigger: TriggerOnComplete},
		},
	}

	assert.Equal(t, "a", def.FirstStage().ID)
	assert.Equal(t, "b", def.NextByOrder(10).ID)
	assert.Nil(t, def.NextByOrder(30))
	assert.Equal(t, "t", def.FindTransition("a", TriggerOnComplete).ToStageID)
	assert.Nil(t, def.FindTransition("b", TriggerOnApprove))
	assert.Nil(t, (&WorkflowDefinition{}).FirstStage())
}

func TestStageType_AllowsAction(t *testing.T) {
	assert.True(t, StageTypeApproval.AllowsAction(ActionKickback))
	assert.False(t, StageTypeApproval.AllowsAction(ActionComplete))
	assert.True(t, StageTypeTimer.AllowsAction(ActionTimeout))
	assert.False(t, StageTypeCondition.AllowsAction(ActionComplete))
	assert.False(t, StageTypeTerminal.AllowsAction(ActionApprove))
}
