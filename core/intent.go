package core

// Intent is a closed-set label describing what the user wants. The label set
// mirrors the registered domain capabilities plus sentinels for smalltalk and
// unclassifiable input.
type Intent string

const (
	// IntentOrdersCreate requests creation of a new order.
	IntentOrdersCreate Intent = "orders.create"
	// IntentOrdersLookup requests the status or contents of an existing order.
	IntentOrdersLookup Intent = "orders.lookup"
	// IntentInventoryCheck requests stock levels for a product.
	IntentInventoryCheck Intent = "inventory.check"
	// IntentInventoryForecast requests a demand forecast.
	IntentInventoryForecast Intent = "inventory.forecast"
	// IntentCRM requests customer relationship operations.
	IntentCRM Intent = "crm.management"
	// IntentDebtSummary requests outstanding debt / receivables information.
	IntentDebtSummary Intent = "debt.summary"
	// IntentFraudDetection requests a risk assessment for an order.
	IntentFraudDetection Intent = "fraud.detection"
	// IntentSmalltalk covers greetings and conversational filler.
	IntentSmalltalk Intent = "smalltalk"
	// IntentUnknown is the fallback for unclassifiable input.
	IntentUnknown Intent = "unknown"
)

// Intents returns the closed label set in a stable order, excluding unknown.
func Intents() []Intent {
	return []Intent{
		IntentOrdersCreate,
		IntentOrdersLookup,
		IntentInventoryCheck,
		IntentInventoryForecast,
		IntentCRM,
		IntentDebtSummary,
		IntentFraudDetection,
		IntentSmalltalk,
	}
}

// ParseIntent maps a label string to a known Intent, falling back to
// IntentUnknown for anything outside the closed set.
func ParseIntent(label string) Intent {
	for _, in := range Intents() {
		if string(in) == label {
			return in
		}
	}
	return IntentUnknown
}

// IntentResult is the transient outcome of classifying one utterance.
// Confidence is always present, in [0,1]; heuristic fallback classification
// uses a fixed low value rather than an absent one. Embedded in a Turn,
// never persisted on its own.
type IntentResult struct {
	Label      Intent  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}
