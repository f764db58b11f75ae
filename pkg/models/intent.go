package models

// IntentSpec declares what the engine needs to drive one intent to
// completion: which entities must be collected before invocation, which tool
// performs the domain action, and whether the user must explicitly confirm
// before the tool runs.
type IntentSpec struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	RequiredEntities     []string `json:"required_entities"`
	ToolName             string   `json:"tool_name,omitempty"` // Empty for purely conversational intents
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// IntentCatalog maps intent names to their specs. It is supplied to the
// engine at construction and never mutated afterwards.
type IntentCatalog map[string]IntentSpec

// Lookup returns the spec for an intent name.
func (c IntentCatalog) Lookup(name string) (IntentSpec, bool) {
	spec, ok := c[name]

	return spec, ok
}
