package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regnido/regnido/internal/models"
)

func TestMachineAlternation(t *testing.T) {
	m := NewMachine("")
	assert.Equal(t, StateOutside, m.Current())

	// 场外只允许入场
	assert.True(t, m.Can(EventCheckIn))
	assert.False(t, m.Can(EventCheckOut))

	require.NoError(t, m.Trigger(EventCheckIn))
	assert.Equal(t, StateInside, m.Current())

	// 场内只允许出场
	assert.False(t, m.Can(EventCheckIn))
	assert.True(t, m.Can(EventCheckOut))

	require.NoError(t, m.Trigger(EventCheckOut))
	assert.Equal(t, StateOutside, m.Current())
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine(StateOutside)
	require.Error(t, m.Trigger(EventCheckOut))
	assert.Equal(t, StateOutside, m.Current())

	m = NewMachine(StateInside)
	require.Error(t, m.Trigger(EventCheckIn))
	assert.Equal(t, StateInside, m.Current())
}

func TestFromLastEvent(t *testing.T) {
	assert.Equal(t, StateOutside, FromLastEvent(nil))
	assert.Equal(t, StateOutside, FromLastEvent(&models.PresenceEvent{EventType: models.EventCheckOut}))
	assert.Equal(t, StateInside, FromLastEvent(&models.PresenceEvent{EventType: models.EventCheckIn}))
}

func TestTransitionEvent(t *testing.T) {
	event, err := TransitionEvent(models.EventCheckIn)
	require.NoError(t, err)
	assert.Equal(t, EventCheckIn, event)

	event, err = TransitionEvent(models.EventCheckOut)
	require.NoError(t, err)
	assert.Equal(t, EventCheckOut, event)

	_, err = TransitionEvent("NAP")
	require.Error(t, err)
}
