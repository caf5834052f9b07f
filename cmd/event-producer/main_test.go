package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/domain"
)

func TestSimulatorEventsAreValid(t *testing.T) {
	sim := newSimulator("G1", 2)

	join := sim.join("bot-1", true)
	require.NoError(t, join.Validate())
	assert.True(t, join.Bot)

	for i := 0; i < 200; i++ {
		e := sim.next(memberName(i % 5))
		require.NoError(t, e.Validate())
		assert.NotEmpty(t, e.ID)

		switch e.Type {
		case domain.EventMessage:
			assert.Contains(t, sim.channels, e.ChannelID)
		case domain.EventXPAdd:
			require.NotNil(t, e.Payload.TotalXP)
			require.NotNil(t, e.Payload.GainedXP)
			assert.GreaterOrEqual(t, *e.Payload.TotalXP, *e.Payload.GainedXP)
		case domain.EventLevelUp:
			require.NotNil(t, e.Payload.Level)
		case domain.EventBalanceAdd:
			require.NotNil(t, e.Payload.Balance)
		}
	}
}

func TestMemberName(t *testing.T) {
	assert.Equal(t, "Phoenix1", memberName(0))
	assert.Equal(t, "Phoenix2", memberName(len(memberPrefixes)))
}
