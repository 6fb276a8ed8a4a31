package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rahul/concierge/internal/llm"
	"github.com/rahul/concierge/internal/store"
)

var reasoningSchema = map[string]any{
	"steps": []map[string]any{{
		"step_number":       "1-based position in the trace",
		"description":       "what this step establishes",
		"reasoning":         "why it is needed",
		"required_services": []string{"calendar", "email"},
	}},
}

// Reasoner produces a chain-of-thought trace for a classified intent.
// Common request shapes are answered from fixed templates without a
// model round trip; everything else goes through the model.
type Reasoner struct {
	llm llm.Generator
	log zerolog.Logger
}

func NewReasoner(gen llm.Generator, log zerolog.Logger) *Reasoner {
	return &Reasoner{llm: gen, log: log.With().Str("component", "reasoner").Logger()}
}

// fastPaths maps message markers to canned traces. First match wins, in
// the listed order.
var fastPaths = []struct {
	markers []string
	trace   []ReasoningStep
}{
	{
		markers: []string{"when am i free", "find free time", "free slots"},
		trace: []ReasoningStep{
			{StepNumber: 1, Description: "Determine the time range the user cares about", Reasoning: "Free time only makes sense within a bounded window", RequiredServices: nil},
			{StepNumber: 2, Description: "List existing events in that range", Reasoning: "Busy intervals come from the calendar", RequiredServices: []string{"calendar"}},
			{StepNumber: 3, Description: "Compute the gaps between busy intervals", Reasoning: "Gaps of sufficient length are the free slots to report", RequiredServices: []string{"calendar"}},
		},
	},
	{
		markers: []string{"find my meeting", "search for events", "find events"},
		trace: []ReasoningStep{
			{StepNumber: 1, Description: "Extract the search terms from the request", Reasoning: "Matching needs a concrete query string", RequiredServices: nil},
			{StepNumber: 2, Description: "Search calendar events for those terms", Reasoning: "The calendar holds the events to match against", RequiredServices: []string{"calendar"}},
		},
	},
	{
		markers: []string{"reschedule", "move my meeting", "change the time"},
		trace: []ReasoningStep{
			{StepNumber: 1, Description: "Identify which event the user means", Reasoning: "Rescheduling needs a specific target event", RequiredServices: []string{"calendar"}},
			{StepNumber: 2, Description: "Resolve the new time the user wants", Reasoning: "The move needs an absolute destination slot", RequiredServices: nil},
			{StepNumber: 3, Description: "Check the new slot for conflicts and move the event", Reasoning: "A move into an occupied slot would just trade one conflict for another", RequiredServices: []string{"calendar"}},
		},
	},
}

// Reason builds a reasoning trace for the message. History turns, when
// present, are folded into the prompt so follow-up messages resolve
// references to earlier turns. A model failure degrades to an empty
// trace; planning proceeds without it.
func (r *Reasoner) Reason(ctx context.Context, message string, intent *Intent, history []store.Turn) []ReasoningStep {
	lower := strings.ToLower(message)
	for _, fp := range fastPaths {
		for _, marker := range fp.markers {
			if strings.Contains(lower, marker) {
				r.log.Debug().Str("marker", marker).Msg("fast-path trace")
				return fp.trace
			}
		}
	}

	prompt := r.buildPrompt(message, intent, history)
	for attempt := 0; attempt < 2; attempt++ {
		var out struct {
			Steps []ReasoningStep `json:"steps"`
		}
		err := r.llm.GenerateStructured(ctx, prompt, reasoningSchema, &out,
			llm.WithSystemMessage("You break user requests into short, ordered reasoning steps for a calendar and email assistant. Respond with JSON only."),
			llm.WithTemperature(0.4))
		if err != nil {
			r.log.Warn().Err(err).Msg("reasoning failed, degrading to empty trace")
			return nil
		}
		if verr := ValidateTrace(out.Steps); verr != nil {
			r.log.Warn().Err(verr).Int("attempt", attempt+1).Msg("invalid trace")
			continue
		}
		return out.Steps
	}
	return nil
}

func (r *Reasoner) buildPrompt(message string, intent *Intent, history []store.Turn) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Classified intent: service=%s operation=%s\n", intent.PrimaryService, intent.Operation)
	fmt.Fprintf(&b, "Message: %s", message)
	return b.String()
}

// ValidateTrace checks the structural invariants of a reasoning trace:
// step numbers are 1-based and strictly sequential, and every named
// service is one the assistant actually has.
func ValidateTrace(steps []ReasoningStep) error {
	for i, step := range steps {
		if step.StepNumber != i+1 {
			return fmt.Errorf("step %d has number %d, want %d", i, step.StepNumber, i+1)
		}
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("step %d has no description", step.StepNumber)
		}
		for _, svc := range step.RequiredServices {
			switch ServiceKind(svc) {
			case ServiceCalendar, ServiceEmail:
			default:
				return fmt.Errorf("step %d names unknown service %q", step.StepNumber, svc)
			}
		}
	}
	return nil
}
