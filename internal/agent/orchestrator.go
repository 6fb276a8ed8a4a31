package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/rahul/concierge/internal/governance"
	"github.com/rahul/concierge/internal/observability"
	"github.com/rahul/concierge/internal/services"
	"github.com/rahul/concierge/internal/state"
	"github.com/rahul/concierge/internal/store"
	"github.com/rahul/concierge/internal/timeutil"
)

// Replier delivers outbound messages. Gateways satisfy this.
type Replier interface {
	Send(chatID, text string) error
}

var (
	affirmTokens = map[string]bool{"yes": true, "y": true, "sure": true, "ok": true, "okay": true, "👍": true, "oui": true}
	cancelTokens = map[string]bool{"no": true, "n": true, "cancel": true, "👎": true, "non": true}
)

// timeCoercer is implemented by services that can normalize raw time
// parameters into their canonical wire format before dispatch.
type timeCoercer interface {
	EnsureISO(startRaw, endRaw string) (string, string, error)
}

// Orchestrator drives the full pipeline for each inbound message:
// intent, reasoning, planning, verification gating, execution and
// response. Processing for one sender is serialized through its
// conversation entry; different senders run concurrently up to the
// inflight bound.
type Orchestrator struct {
	parser    *IntentParser
	reasoner  *Reasoner
	planner   *Planner
	registry  *services.Registry
	policy    governance.PolicyEngine
	states    *state.Store[Conversation]
	history   *store.HistoryStore
	replier   Replier
	sem       *semaphore.Weighted
	histTurns int
	stats     *observability.Stats
	log       zerolog.Logger
}

type OrchestratorConfig struct {
	MaxInflight  int
	StateTTL     time.Duration
	HistoryTurns int
}

func NewOrchestrator(parser *IntentParser, reasoner *Reasoner, planner *Planner,
	registry *services.Registry, policy governance.PolicyEngine,
	history *store.HistoryStore, replier Replier,
	cfg OrchestratorConfig, log zerolog.Logger) *Orchestrator {

	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 16
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 30 * time.Minute
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 5
	}
	return &Orchestrator{
		parser:    parser,
		reasoner:  reasoner,
		planner:   planner,
		registry:  registry,
		policy:    policy,
		states:    state.New[Conversation](cfg.StateTTL),
		history:   history,
		replier:   replier,
		sem:       semaphore.NewWeighted(int64(cfg.MaxInflight)),
		histTurns: cfg.HistoryTurns,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// SetStats attaches heartbeat counters. Pass nil to disable.
func (o *Orchestrator) SetStats(s *observability.Stats) {
	o.stats = s
}

// StartJanitor launches the background eviction of idle conversations.
// It returns immediately; eviction runs until ctx is cancelled.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	go o.states.StartJanitor(ctx, interval)
}

// ActiveConversations reports the number of tracked senders.
func (o *Orchestrator) ActiveConversations() int {
	return o.states.Len()
}

// HandleInbound accepts one message and returns immediately. Processing
// happens on its own goroutine, bounded by the inflight semaphore; a
// panic anywhere in the pipeline is converted into an apology so one
// bad message can never take the process down.
func (o *Orchestrator) HandleInbound(ctx context.Context, senderID, text string) {
	msgID := uuid.NewString()
	go func() {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		log := o.log.With().Str("msg_id", msgID).Logger()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("sender", senderID).Any("panic", r).Msg("pipeline panic")
				o.reply(senderID, "Something went wrong on my end. Please try that again.")
			}
		}()

		log.Debug().Str("sender", senderID).Msg("message accepted")
		o.states.With(senderID, func(conv *Conversation) {
			o.process(ctx, senderID, text, conv)
		})
	}()
}

func (o *Orchestrator) process(ctx context.Context, senderID, text string, conv *Conversation) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if o.stats != nil {
		o.stats.MessagesHandled.Add(1)
	}
	o.record(senderID, "user", text)

	switch {
	case conv.AwaitingVerification:
		o.handleVerification(ctx, senderID, text, conv)
	case conv.AwaitingRescheduleChoice:
		o.handleRescheduleChoice(ctx, senderID, text, conv)
	default:
		o.handleFresh(ctx, senderID, text, conv)
	}
}

func (o *Orchestrator) handleFresh(ctx context.Context, senderID, text string, conv *Conversation) {
	o.reply(senderID, ThinkingMessage)

	intent := o.parser.Parse(ctx, text)

	var turns []store.Turn
	if o.history != nil {
		var err error
		turns, err = o.history.GetHistory(senderID, o.histTurns)
		if err != nil {
			o.log.Warn().Err(err).Str("sender", senderID).Msg("history unavailable")
		}
	}
	trace := o.reasoner.Reason(ctx, text, intent, turns)

	plan, err := o.planner.Plan(ctx, text, intent, trace)
	if err != nil {
		o.log.Error().Err(err).Str("sender", senderID).Msg("planning failed")
		o.reply(senderID, "I couldn't work out how to handle that. Could you rephrase?")
		return
	}

	if plan.RequiresVerification {
		conv.AwaitingVerification = true
		conv.PendingPlan = plan
		o.reply(senderID, FormatVerificationRequest(plan))
		return
	}
	o.reply(senderID, o.execute(ctx, senderID, text, plan, conv))
}

// handleVerification resolves the confirm sub-dialogue. Anything that is
// neither clearly affirmative nor clearly negative re-prompts and keeps
// the pending plan.
func (o *Orchestrator) handleVerification(ctx context.Context, senderID, text string, conv *Conversation) {
	word := strings.ToLower(strings.TrimSpace(text))
	switch {
	case affirmTokens[word]:
		plan := conv.PendingPlan
		conv.Reset()
		if plan == nil {
			o.reply(senderID, "I lost track of what we were confirming. Could you start over?")
			return
		}
		o.reply(senderID, "Processing...")
		o.reply(senderID, o.execute(ctx, senderID, "", plan, conv))
	case cancelTokens[word]:
		conv.Reset()
		o.reply(senderID, "Okay, cancelled. Nothing was changed.")
	default:
		o.reply(senderID, "Please reply \"yes\" to proceed or \"no\" to cancel.")
	}
}

// execute runs every action in order. A failing action yields an error
// result and the batch continues; a calendar conflict is captured as
// state for the reschedule sub-dialogue and routes the whole response
// through the conflict path.
func (o *Orchestrator) execute(ctx context.Context, senderID, message string, plan *ActionPlan, conv *Conversation) string {
	results := make([]*services.Result, 0, len(plan.Actions))
	var conflictRes *services.Result
	var conflictData []map[string]any

	for i := range plan.Actions {
		action := plan.Actions[i]
		res := o.dispatch(ctx, senderID, action)
		results = append(results, res)

		if res.Status == services.StatusConflict && conflictRes == nil {
			conflictRes = res
			conflictData = conflictEvents(res)
			o.prepareReschedule(conv, action, conflictData)
		}
	}
	o.logOutcomes(senderID, plan, results)

	// Any conflict routes the whole reply through the conflict path,
	// whether or not the service attached event details. The reschedule
	// sub-dialogue is only armed when alternatives could be derived.
	if conflictRes != nil {
		var reply string
		switch {
		case conv.AwaitingRescheduleChoice:
			reply = FormatConflictResponse(conflictData, conv.SuggestedTimes)
		case conflictRes.Message != "":
			reply = "⚠️ " + conflictRes.Message
		default:
			reply = "⚠️ That time conflicts with an existing event."
		}
		o.record(senderID, "assistant", reply)
		return reply
	}
	reply := o.planner.GenerateResponse(ctx, message, plan, results)
	o.record(senderID, "assistant", reply)
	return reply
}

// dispatch runs a single action through policy, parameter validation,
// time coercion and the service itself. It never returns nil.
func (o *Orchestrator) dispatch(ctx context.Context, senderID string, action Action) *services.Result {
	pres, err := o.policy.Evaluate(ctx, governance.Request{
		Service: action.Service,
		Method:  action.Method,
		ChatID:  senderID,
	})
	if err == nil && pres.Effect == governance.EffectDeny {
		return services.Errorf("%s.%s is not permitted", action.Service, action.Method)
	}

	if missing := ValidateRequiredParams(action); len(missing) > 0 {
		return services.Errorf("%s.%s is missing required parameters: %s",
			action.Service, action.Method, strings.Join(missing, ", "))
	}

	svc, ok := o.registry.Get(action.Service)
	if !ok {
		return services.Errorf("service %q is not available", action.Service)
	}

	if _, ok := action.Params["chat_id"]; !ok {
		action.Params["chat_id"] = senderID
	}
	if tc, ok := svc.(timeCoercer); ok {
		if start := services.StringParam(action.Params, "start_time"); start != "" {
			isoStart, isoEnd, cerr := tc.EnsureISO(start, services.StringParam(action.Params, "end_time"))
			if cerr != nil {
				return services.Errorf("could not understand the time for %s: %v", action.Method, cerr)
			}
			action.Params["start_time"] = isoStart
			action.Params["end_time"] = isoEnd
		}
	}

	res, err := svc.Execute(ctx, action.Method, action.Params)
	if err != nil {
		o.log.Error().Err(err).Str("service", action.Service).Str("method", action.Method).Msg("action failed")
		return services.Errorf("%s.%s failed: %v", action.Service, action.Method, err)
	}
	if o.stats != nil {
		o.stats.ActionsExecuted.Add(1)
	}
	return res
}

// prepareReschedule derives alternative slots from a conflict result and
// arms the reschedule sub-dialogue.
func (o *Orchestrator) prepareReschedule(conv *Conversation, action Action, conflicts []map[string]any) {
	start, err1 := timeutil.ParseISO(services.StringParam(action.Params, "start_time"))
	end, err2 := timeutil.ParseISO(services.StringParam(action.Params, "end_time"))
	if err1 != nil || err2 != nil {
		return
	}
	busy := make([]timeutil.Interval, 0, len(conflicts))
	for _, ev := range conflicts {
		s, serr := timeutil.ParseISO(services.StringParam(ev, "start"))
		e, eerr := timeutil.ParseISO(services.StringParam(ev, "end"))
		if serr != nil || eerr != nil {
			continue
		}
		busy = append(busy, timeutil.Interval{Start: s, End: e})
	}
	alts := timeutil.SuggestAlternatives(start, end, busy)
	if len(alts) == 0 {
		return
	}
	conv.AwaitingRescheduleChoice = true
	conv.OriginalAction = &action
	conv.SuggestedTimes = alts
}

var optionRe = regexp.MustCompile(`^(?:option\s*)?(\d+)\b`)

// ParseRescheduleChoice interprets a reply in the reschedule
// sub-dialogue as a 1-based option index. It accepts a bare number or
// "option N".
func ParseRescheduleChoice(text string) (int, bool) {
	m := optionRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (o *Orchestrator) handleRescheduleChoice(ctx context.Context, senderID, text string, conv *Conversation) {
	if conv.OriginalAction == nil {
		conv.Reset()
		o.reply(senderID, "I lost track of what we were rescheduling. Could you start over?")
		return
	}
	word := strings.ToLower(strings.TrimSpace(text))

	switch {
	case cancelTokens[word]:
		conv.Reset()
		o.reply(senderID, "Okay, I won't schedule it.")
		return
	case word == "create anyway" || word == "override" || word == "anyway":
		action := *conv.OriginalAction
		action.Params["check_for_conflicts"] = false
		conv.Reset()
		res := o.dispatch(ctx, senderID, action)
		o.replyResult(senderID, res)
		return
	}

	// A named time ("9am", "10:30", "afternoon") moves the slot to that
	// time on the same day instead of picking a listed option.
	if hour, minute, ok := timeutil.ClockFromExpr(word); ok {
		o.rescheduleToClock(ctx, senderID, conv, hour, minute)
		return
	}

	n, ok := ParseRescheduleChoice(text)
	if !ok {
		o.reply(senderID, fmt.Sprintf(
			"Please reply with a number between 1 and %d, a time like \"9am\", \"create anyway\", or \"cancel\".",
			len(conv.SuggestedTimes)))
		return
	}
	if n < 1 || n > len(conv.SuggestedTimes) {
		o.reply(senderID, fmt.Sprintf(
			"I only suggested %d option(s). Pick a number between 1 and %d, or say \"cancel\".",
			len(conv.SuggestedTimes), len(conv.SuggestedTimes)))
		return
	}

	slot := conv.SuggestedTimes[n-1]
	action := *conv.OriginalAction
	action.Params["start_time"] = slot.Start.Format(time.RFC3339)
	action.Params["end_time"] = slot.End.Format(time.RFC3339)
	action.Params["check_for_conflicts"] = false
	conv.Reset()

	res := o.dispatch(ctx, senderID, action)
	o.replyResult(senderID, res)
}

// rescheduleToClock moves the original slot to an explicit clock time on
// the same day, preserving the slot's duration.
func (o *Orchestrator) rescheduleToClock(ctx context.Context, senderID string, conv *Conversation, hour, minute int) {
	action := *conv.OriginalAction
	start, err := timeutil.ParseISO(services.StringParam(action.Params, "start_time"))
	if err != nil {
		conv.Reset()
		o.reply(senderID, "I lost track of the original time. Could you start over?")
		return
	}
	duration := timeutil.DefaultDuration
	if end, eerr := timeutil.ParseISO(services.StringParam(action.Params, "end_time")); eerr == nil && end.After(start) {
		duration = end.Sub(start)
	}

	newStart := time.Date(start.Year(), start.Month(), start.Day(), hour, minute, 0, 0, start.Location())
	action.Params["start_time"] = newStart.Format(time.RFC3339)
	action.Params["end_time"] = newStart.Add(duration).Format(time.RFC3339)
	action.Params["check_for_conflicts"] = false
	conv.Reset()

	res := o.dispatch(ctx, senderID, action)
	o.replyResult(senderID, res)
}

func (o *Orchestrator) replyResult(senderID string, res *services.Result) {
	var reply string
	switch res.Status {
	case services.StatusSuccess:
		reply = "✅ " + res.Message
	default:
		reply = "❌ " + res.Message
	}
	o.record(senderID, "assistant", reply)
	o.reply(senderID, reply)
}

func (o *Orchestrator) reply(senderID, text string) {
	if err := o.replier.Send(senderID, text); err != nil {
		o.log.Error().Err(err).Str("sender", senderID).Msg("send failed")
		return
	}
	if o.stats != nil {
		o.stats.RepliesSent.Add(1)
	}
}

func (o *Orchestrator) record(senderID, role, content string) {
	if o.history == nil {
		return
	}
	if err := o.history.AddMessage(senderID, role, content); err != nil {
		o.log.Warn().Err(err).Msg("history write failed")
	}
}

func (o *Orchestrator) logOutcomes(senderID string, plan *ActionPlan, results []*services.Result) {
	for i, res := range results {
		method := ""
		if i < len(plan.Actions) {
			method = plan.Actions[i].Service + "." + plan.Actions[i].Method
		}
		o.log.Info().
			Str("sender", senderID).
			Str("action", method).
			Str("status", string(res.Status)).
			Msg("action executed")
	}
}

func conflictEvents(res *services.Result) []map[string]any {
	if res.Data == nil {
		return nil
	}
	list, _ := mapList(res.Data["conflicts"])
	return list
}
