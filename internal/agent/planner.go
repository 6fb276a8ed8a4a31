package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rahul/concierge/internal/governance"
	"github.com/rahul/concierge/internal/llm"
	"github.com/rahul/concierge/internal/services"
)

var planSchema = map[string]any{
	"actions": []map[string]any{{
		"service": "calendar | email",
		"method":  "one of the service's methods",
		"params":  "map of parameters for the method",
	}},
	"summary":               "one sentence describing what the plan does",
	"requires_verification": "true when the plan changes state (creates, updates, deletes, sends)",
}

// methodParams lists the parameters a method cannot run without.
var methodParams = map[string][]string{
	"create_event":     {"summary", "start_time", "end_time"},
	"update_event":     {"event_id"},
	"delete_event":     {"event_id"},
	"reschedule_event": {"event_id", "start_time", "end_time"},
	"check_conflicts":  {"start_time", "end_time"},
	"send_email":       {"to", "subject", "body"},
	"reply_to_email":   {"email_id", "body"},
}

// Planner turns an intent plus its reasoning trace into an ordered
// action plan, then gates the plan through policy: the model may
// volunteer that verification is needed, but policy can only raise
// that flag, never lower it.
type Planner struct {
	llm      llm.Generator
	registry *services.Registry
	policy   governance.PolicyEngine
	log      zerolog.Logger
}

func NewPlanner(gen llm.Generator, registry *services.Registry, policy governance.PolicyEngine, log zerolog.Logger) *Planner {
	return &Planner{
		llm:      gen,
		registry: registry,
		policy:   policy,
		log:      log.With().Str("component", "planner").Logger(),
	}
}

// Plan builds the action plan for an intent. Unknown intents yield an
// empty plan; the orchestrator answers those conversationally.
func (p *Planner) Plan(ctx context.Context, message string, intent *Intent, trace []ReasoningStep) (*ActionPlan, error) {
	if intent.PrimaryService == ServiceUnknown {
		return &ActionPlan{Summary: "general conversation"}, nil
	}

	var plan ActionPlan
	err := p.llm.GenerateStructured(ctx, p.buildPrompt(message, intent, trace), planSchema, &plan,
		llm.WithSystemMessage(p.systemPrompt()),
		llm.WithTemperature(0.2))
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	for i := range plan.Actions {
		if plan.Actions[i].Params == nil {
			plan.Actions[i].Params = map[string]any{}
		}
		p.inheritIntentParams(&plan.Actions[i], intent)

		res, perr := p.policy.Evaluate(ctx, governance.Request{
			Service: plan.Actions[i].Service,
			Method:  plan.Actions[i].Method,
		})
		if perr != nil {
			return nil, fmt.Errorf("policy evaluation: %w", perr)
		}
		if res.Effect == governance.EffectVerify {
			plan.RequiresVerification = true
		}
	}

	p.validateCalendarActions(ctx, &plan)

	p.log.Info().
		Int("actions", len(plan.Actions)).
		Bool("verify", plan.RequiresVerification).
		Msg("plan built")
	return &plan, nil
}

// validateCalendarActions probes calendar creates for conflicts at plan
// time. It only runs for plans nothing else has gated yet, so an
// unvetted plan cannot silently double-book; the runtime conflict check
// still owns the reschedule sub-dialogue.
func (p *Planner) validateCalendarActions(ctx context.Context, plan *ActionPlan) {
	if plan.RequiresVerification {
		return
	}
	svc, ok := p.registry.Get("calendar")
	if !ok {
		return
	}
	for _, action := range plan.Actions {
		if action.Service != "calendar" || action.Method != "create_event" {
			continue
		}
		start := services.StringParam(action.Params, "start_time")
		end := services.StringParam(action.Params, "end_time")
		if start == "" || end == "" {
			continue
		}
		res, err := svc.Execute(ctx, "check_conflicts", map[string]any{
			"start_time": start,
			"end_time":   end,
		})
		if err != nil || res == nil || res.Status != services.StatusSuccess {
			continue
		}
		if n := len(conflictEvents(res)); n > 0 {
			plan.RequiresVerification = true
			plan.Summary = fmt.Sprintf("%s (note: %d existing event(s) overlap the requested time)", plan.Summary, n)
			return
		}
	}
}

func (p *Planner) systemPrompt() string {
	return fmt.Sprintf(`You plan service calls for a personal assistant.
Available services: %s.
Calendar methods: list_events, create_event, update_event, delete_event, check_conflicts, search_events, find_free_time, reschedule_event.
Email methods: send_email, list_emails, search_emails, reply_to_email.
Reminder methods: schedule_reminder, list_reminders.
Emit the minimal ordered list of actions that fulfils the request. Respond with JSON only.`,
		strings.Join(p.registry.Names(), ", "))
}

func (p *Planner) buildPrompt(message string, intent *Intent, trace []ReasoningStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", message)
	fmt.Fprintf(&b, "Intent: service=%s operation=%s params=%v\n", intent.PrimaryService, intent.Operation, intent.Parameters)
	if len(trace) > 0 {
		b.WriteString("Reasoning:\n")
		for _, step := range trace {
			fmt.Fprintf(&b, "%d. %s\n", step.StepNumber, step.Description)
		}
	}
	return b.String()
}

// inheritIntentParams copies resolved intent parameters into an action
// when the model omitted them, so normalized timestamps survive planning.
func (p *Planner) inheritIntentParams(action *Action, intent *Intent) {
	for _, key := range []string{"start_time", "end_time", "summary", "location", "description"} {
		if _, ok := action.Params[key]; ok {
			continue
		}
		if v, ok := intent.Parameters[key]; ok && v != "" {
			action.Params[key] = v
		}
	}
}

// ValidateRequiredParams reports the missing required parameters of an
// action, if any. Methods with no registered requirements always pass.
func ValidateRequiredParams(action Action) []string {
	var missing []string
	for _, key := range methodParams[action.Method] {
		if services.StringParam(action.Params, key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// GenerateResponse synthesizes the reply for an executed plan. A model
// failure degrades to the deterministic rendering of the result batch.
func (p *Planner) GenerateResponse(ctx context.Context, message string, plan *ActionPlan, results []*services.Result) string {
	fallback := FormatResults(results)
	if len(results) == 0 {
		return p.generalReply(ctx, message)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user asked: %s\n", message)
	b.WriteString("The assistant executed these actions with these outcomes:\n")
	for i, res := range results {
		method := ""
		if i < len(plan.Actions) {
			method = plan.Actions[i].Method
		}
		fmt.Fprintf(&b, "%d. %s: %s — %s\n", i+1, method, res.Status, res.Message)
	}
	b.WriteString("Write a short, friendly reply summarizing the outcome. Mention failures plainly. Do not invent details.")

	reply, err := p.llm.Generate(ctx, b.String(), llm.WithTemperature(0.7), llm.WithMaxTokens(300))
	if err != nil || strings.TrimSpace(reply) == "" {
		p.log.Warn().Err(err).Msg("response synthesis failed, using fallback")
		reply = fallback
	}
	reply = strings.TrimSpace(reply)
	if details := FormatResultDetails(results); details != "" {
		reply += "\n\n" + details
	}
	return reply
}

// generalReply handles messages with no actionable plan.
func (p *Planner) generalReply(ctx context.Context, message string) string {
	reply, err := p.llm.Generate(ctx, message,
		llm.WithSystemMessage("You are a concise, friendly personal assistant for calendar and email. If the user asks for something you cannot do, say so and mention what you can do."),
		llm.WithTemperature(0.7),
		llm.WithMaxTokens(300))
	if err != nil || strings.TrimSpace(reply) == "" {
		return "I can help with your calendar and email. What would you like to do?"
	}
	return strings.TrimSpace(reply)
}
