package types

// Event is the structured payload appended to the event log for every state
// transition. Attributes are flat string pairs so downstream consumers never
// need the engine's types to decode them.
type Event struct {
	Type       string
	Attributes map[string]string
}
