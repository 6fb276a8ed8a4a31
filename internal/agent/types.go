package agent

import (
	"github.com/rahul/concierge/internal/timeutil"
)

// ServiceKind identifies which external service a request targets.
type ServiceKind string

const (
	ServiceCalendar ServiceKind = "calendar"
	ServiceEmail    ServiceKind = "email"
	ServiceUnknown  ServiceKind = "unknown"
)

// Intent is the structured classification of one inbound message. It is
// produced once per message and immutable afterwards.
type Intent struct {
	PrimaryService ServiceKind    `json:"primary_service"`
	Operation      string         `json:"operation"`
	Parameters     map[string]any `json:"parameters"`
	Confidence     float64        `json:"confidence,omitempty"`
}

// ReasoningStep is one unit of the chain-of-thought trace. The trace is
// advisory context for planning and is never executed directly.
type ReasoningStep struct {
	StepNumber       int      `json:"step_number"`
	Description      string   `json:"description"`
	Reasoning        string   `json:"reasoning"`
	RequiredServices []string `json:"required_services"`
}

// Action is one concrete service invocation. Params stay mutable until
// dispatch: time fields may be normalized in place just before execution.
type Action struct {
	Service string         `json:"service"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// ActionPlan is an ordered batch of actions plus a human-readable summary.
type ActionPlan struct {
	Actions              []Action `json:"actions"`
	Summary              string   `json:"summary"`
	RequiresVerification bool     `json:"requires_verification"`
}

// Conversation is the per-sender dialogue state. The zero value is the
// idle state; sub-dialogue handlers reset it back to zero when they
// resolve.
type Conversation struct {
	AwaitingVerification     bool
	PendingPlan              *ActionPlan
	AwaitingRescheduleChoice bool
	OriginalAction           *Action
	SuggestedTimes           []timeutil.Interval
}

// Reset returns the conversation to idle.
func (c *Conversation) Reset() {
	*c = Conversation{}
}
