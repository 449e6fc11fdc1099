package mutation

// Outcome says how far an operation got.
type Outcome string

const (
	// OutcomeApplied means the server accepted every part of the request.
	OutcomeApplied Outcome = "applied"
	// OutcomePartial means the server accepted some sessions and refused others.
	OutcomePartial Outcome = "partial"
	// OutcomeNone means nothing changed on the server.
	OutcomeNone Outcome = "none"
)

// Result describes a completed submission. It is returned alongside a nil
// error for applied and partial outcomes.
type Result struct {
	Outcome   Outcome  `json:"outcome"`
	Keys      []string `json:"keys"`
	Succeeded []int64  `json:"succeeded,omitempty"`
	Failed    []int64  `json:"failed,omitempty"`
	Message   string   `json:"message,omitempty"`
}
