// Package capabilities provides the built-in domain capability shims the
// server registers at startup. They are deterministic and fixture-backed so
// the orchestration core can run end to end without the surrounding business
// systems; production deployments replace them with capabilities that call
// the real order, inventory and CRM services.
package capabilities

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/core"
)

// Order is one fixture row served by the orders lookup shim.
type Order struct {
	ID       string  `json:"id"`
	Customer string  `json:"customer"`
	Status   string  `json:"status"`
	Total    float64 `json:"total"`
}

// StockLevel is one fixture row served by the inventory check shim.
type StockLevel struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	OnHand   int    `json:"on_hand"`
	Reserved int    `json:"reserved"`
}

var defaultOrders = map[string]Order{
	"1001": {ID: "1001", Customer: "Acme Retail", Status: "shipped", Total: 412.50},
	"1002": {ID: "1002", Customer: "Borealis Foods", Status: "processing", Total: 89.90},
	"1003": {ID: "1003", Customer: "Cobalt Works", Status: "delivered", Total: 1204.00},
}

var defaultStock = map[string]StockLevel{
	"SKU-100": {SKU: "SKU-100", Name: "thermal printer", OnHand: 34, Reserved: 6},
	"SKU-200": {SKU: "SKU-200", Name: "barcode scanner", OnHand: 0, Reserved: 0},
	"SKU-300": {SKU: "SKU-300", Name: "receipt rolls (50pk)", OnHand: 512, Reserved: 40},
}

var orderIDPattern = regexp.MustCompile(`(?i)\border\s*#?\s*(\d+)`)

// OrdersLookup serves order-status questions from a fixed order book.
type OrdersLookup struct {
	orders map[string]Order
}

// NewOrdersLookup constructs the shim over the default fixture set.
func NewOrdersLookup() *OrdersLookup {
	return &OrdersLookup{orders: defaultOrders}
}

// Name implements core.Capability.
func (o *OrdersLookup) Name() string { return "orders.query" }

// Invoke implements core.Capability. When the utterance names an order it is
// looked up by ID; otherwise the shim summarizes the whole order book.
func (o *OrdersLookup) Invoke(_ context.Context, input core.CapabilityInput) (core.CapabilityResult, error) {
	if m := orderIDPattern.FindStringSubmatch(input.Utterance); m != nil {
		order, ok := o.orders[m[1]]
		if !ok {
			return core.CapabilityResult{
				Summary: fmt.Sprintf("no order with ID %s was found", m[1]),
				Data:    map[string]any{"order_id": m[1], "found": false},
			}, nil
		}
		return core.CapabilityResult{
			Summary: fmt.Sprintf("order %s for %s is %s (total %.2f)", order.ID, order.Customer, order.Status, order.Total),
			Data:    map[string]any{"order": order, "found": true},
		}, nil
	}

	open := 0
	for _, order := range o.orders {
		if order.Status != "delivered" {
			open++
		}
	}
	return core.CapabilityResult{
		Summary: fmt.Sprintf("%d orders on file, %d not yet delivered", len(o.orders), open),
		Data:    map[string]any{"total": len(o.orders), "open": open},
	}, nil
}

// InventoryCheck serves stock-level questions from a fixed stock list.
type InventoryCheck struct {
	stock map[string]StockLevel
}

// NewInventoryCheck constructs the shim over the default fixture set.
func NewInventoryCheck() *InventoryCheck {
	return &InventoryCheck{stock: defaultStock}
}

// Name implements core.Capability.
func (i *InventoryCheck) Name() string { return "inventory.check" }

// Invoke implements core.Capability. SKUs are matched by token, product names
// by substring; with no match the shim reports overall availability.
func (i *InventoryCheck) Invoke(_ context.Context, input core.CapabilityInput) (core.CapabilityResult, error) {
	lowered := strings.ToLower(input.Utterance)
	for sku, level := range i.stock {
		if strings.Contains(lowered, strings.ToLower(sku)) || strings.Contains(lowered, level.Name) {
			available := level.OnHand - level.Reserved
			return core.CapabilityResult{
				Summary: fmt.Sprintf("%s (%s): %d on hand, %d available", level.Name, level.SKU, level.OnHand, available),
				Data:    map[string]any{"level": level, "available": available},
			}, nil
		}
	}

	inStock := 0
	for _, level := range i.stock {
		if level.OnHand > level.Reserved {
			inStock++
		}
	}
	return core.CapabilityResult{
		Summary: fmt.Sprintf("%d of %d tracked products are in stock", inStock, len(i.stock)),
		Data:    map[string]any{"tracked": len(i.stock), "in_stock": inStock},
	}, nil
}

// NewSmalltalk returns a capability that acknowledges greetings so a confident
// smalltalk classification never hits a routing gap.
func NewSmalltalk() core.Capability {
	return capability.NewFunc("smalltalk.reply", func(_ context.Context, input core.CapabilityInput) (core.CapabilityResult, error) {
		return core.CapabilityResult{
			Summary: "the user is making conversation, respond warmly and briefly",
			Data:    map[string]any{"utterance": input.Utterance},
		}, nil
	})
}

// RegisterDefaults binds every built-in shim to its intent label.
func RegisterDefaults(registry *capability.Registry) error {
	bindings := []struct {
		label core.Intent
		cap   core.Capability
	}{
		{core.IntentOrdersLookup, NewOrdersLookup()},
		{core.IntentInventoryCheck, NewInventoryCheck()},
		{core.IntentSmalltalk, NewSmalltalk()},
	}
	for _, b := range bindings {
		if err := registry.Register(b.label, b.cap); err != nil {
			return err
		}
	}
	return nil
}
