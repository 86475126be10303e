package capabilities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/core"
)

func TestOrdersLookup_ByID(t *testing.T) {
	shim := NewOrdersLookup()

	res, err := shim.Invoke(context.Background(), core.CapabilityInput{Utterance: "what is the status of order #1001?"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "order 1001")
	assert.Contains(t, res.Summary, "shipped")
	assert.Equal(t, true, res.Data["found"])
}

func TestOrdersLookup_UnknownID(t *testing.T) {
	shim := NewOrdersLookup()

	res, err := shim.Invoke(context.Background(), core.CapabilityInput{Utterance: "where is order 9999"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "no order with ID 9999")
	assert.Equal(t, false, res.Data["found"])
}

func TestOrdersLookup_Summary(t *testing.T) {
	shim := NewOrdersLookup()

	res, err := shim.Invoke(context.Background(), core.CapabilityInput{Utterance: "show me today's orders"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "3 orders on file")
	assert.Equal(t, 2, res.Data["open"])
}

func TestOrdersLookup_Deterministic(t *testing.T) {
	shim := NewOrdersLookup()
	input := core.CapabilityInput{Utterance: "track order 1002 please"}

	first, err := shim.Invoke(context.Background(), input)
	require.NoError(t, err)
	second, err := shim.Invoke(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInventoryCheck_BySKU(t *testing.T) {
	shim := NewInventoryCheck()

	res, err := shim.Invoke(context.Background(), core.CapabilityInput{Utterance: "how many of sku-100 do we have?"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "SKU-100")
	assert.Equal(t, 28, res.Data["available"])
}

func TestInventoryCheck_ByName(t *testing.T) {
	shim := NewInventoryCheck()

	res, err := shim.Invoke(context.Background(), core.CapabilityInput{Utterance: "is the barcode scanner in stock?"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "0 on hand")
}

func TestInventoryCheck_Overview(t *testing.T) {
	shim := NewInventoryCheck()

	res, err := shim.Invoke(context.Background(), core.CapabilityInput{Utterance: "what does inventory look like overall?"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "2 of 3 tracked products")
}

func TestRegisterDefaults(t *testing.T) {
	registry := capability.NewRegistry()
	require.NoError(t, RegisterDefaults(registry))

	labels := registry.Labels()
	assert.Equal(t, []core.Intent{core.IntentInventoryCheck, core.IntentOrdersLookup, core.IntentSmalltalk}, labels)

	cap, err := registry.Resolve(core.IntentSmalltalk)
	require.NoError(t, err)
	res, err := cap.Invoke(context.Background(), core.CapabilityInput{Utterance: "hello!"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Summary)
}
