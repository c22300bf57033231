package domain

// Outcome is how a webhook delivery ended. Every value except duplicate
// belongs to the call that created the event row.
type Outcome string

const (
	OutcomeConverted   Outcome = "converted"
	OutcomeNoMatch     Outcome = "no_match"
	OutcomeOrderExists Outcome = "order_exists"
	OutcomeUnhandled   Outcome = "unhandled"
	OutcomeDuplicate   Outcome = "duplicate"
)
