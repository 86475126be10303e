package concierge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/provider"
)

func TestConcierge_HandleTurn(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	mock.AddResponse("Classify the user message", "inventory.check|0.9|stock question")
	mock.AddResponse("Compose a helpful reply", "34 units in stock.")

	c := New([]provider.Provider{mock})
	err := c.RegisterCapability(core.IntentInventoryCheck, capability.NewFunc("inventory.levels",
		func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{Summary: "34 units on hand"}, nil
		}))
	require.NoError(t, err)

	res, err := c.HandleTurn(context.Background(), "s1", "how many printers are in stock?")
	require.NoError(t, err)
	assert.Equal(t, core.StateCommitted, res.State)
	assert.Equal(t, "34 units in stock.", res.Response)

	sess, err := c.Sessions().Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.GetTurns(), 1)
}

func TestConcierge_HandleTurnStream(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	mock.AddResponse("Classify the user message", "unknown|0.1|gibberish")
	mock.AddResponse("clarifying question", "What would you like to know?")

	c := New([]provider.Provider{mock})

	frags, errs := c.HandleTurnStream(context.Background(), "s1", "hm")
	var sb strings.Builder
	for frag := range frags {
		sb.WriteString(frag.Text)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "What would you like to know?", sb.String())
}

func TestConcierge_RegistryRejectsUnknownLabel(t *testing.T) {
	c := New([]provider.Provider{provider.NewMockProvider("mock")})
	err := c.RegisterCapability(core.IntentUnknown, capability.NewFunc("noop",
		func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{}, nil
		}))
	assert.Error(t, err)
}
