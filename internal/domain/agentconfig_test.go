package domain

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/95ykf/PhoneBar/internal/event"
)

func TestAgentConfigSettersPublishOnChangeOnly(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	var changes []AgentConfigChange
	bus.Subscribe(TopicAgentConfigChange, func(payload any) {
		changes = append(changes, payload.(AgentConfigChange))
	})

	cfg := NewAgentConfig(AgentConfigParams{TipTime: 5, Bus: bus})

	cfg.SetTipTime(5)
	assert.Empty(t, changes)

	cfg.SetTipTime(10)
	require.Len(t, changes, 1)
	assert.Equal(t, "tipTime", changes[0].Key)
	assert.Equal(t, 10, changes[0].Value)
	assert.Equal(t, 10, cfg.TipTime())

	cfg.SetMaxAfterWorkTime(30)
	cfg.SetMaxAfterWorkTime(30)
	assert.Len(t, changes, 2)
}

func TestAgentConfigAutoReadyAfterWorkTriState(t *testing.T) {
	cfg := NewAgentConfig(AgentConfigParams{})

	_, configured := cfg.AutoReadyAfterWork()
	assert.False(t, configured, "unset preference defers to the server")

	cfg.SetAutoReadyAfterWork(true)
	enabled, configured := cfg.AutoReadyAfterWork()
	assert.True(t, configured)
	assert.True(t, enabled)

	disabled := false
	cfg2 := NewAgentConfig(AgentConfigParams{AutoReadyAfterWork: &disabled})
	got, configured := cfg2.AutoReadyAfterWork()
	assert.True(t, configured)
	assert.False(t, got)
}
