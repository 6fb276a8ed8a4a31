package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/concierge/internal/governance"
	"github.com/rahul/concierge/internal/llm"
	"github.com/rahul/concierge/internal/services"
	"github.com/rahul/concierge/internal/timeutil"
)

// stubGen serves canned JSON payloads to GenerateStructured in order and
// a fixed text reply to Generate.
type stubGen struct {
	structured []string
	reply      string
	err        error
	calls      int
}

func (s *stubGen) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.reply == "" {
		return "done", nil
	}
	return s.reply, nil
}

func (s *stubGen) GenerateStructured(ctx context.Context, prompt string, schema map[string]any, out any, opts ...llm.Option) error {
	if s.err != nil {
		return s.err
	}
	if s.calls >= len(s.structured) {
		return errors.New("no stubbed output left")
	}
	payload := s.structured[s.calls]
	s.calls++
	return json.Unmarshal([]byte(payload), out)
}

type fakeCall struct {
	method string
	params map[string]any
}

type fakeService struct {
	calls   []fakeCall
	results []*services.Result
}

func (f *fakeService) Execute(ctx context.Context, method string, params map[string]any) (*services.Result, error) {
	f.calls = append(f.calls, fakeCall{method: method, params: params})
	if len(f.results) == 0 {
		return services.Success("ok", nil), nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeReplier) Send(chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeReplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestOrchestrator(gen llm.Generator, svc services.Service, policy governance.PolicyEngine) (*Orchestrator, *fakeReplier) {
	norm := timeutil.NewNormalizer(time.UTC)
	registry := services.NewRegistry()
	registry.Register("calendar", svc)
	rep := &fakeReplier{}
	o := NewOrchestrator(
		NewIntentParser(gen, norm, zerolog.Nop()),
		NewReasoner(gen, zerolog.Nop()),
		NewPlanner(gen, registry, policy, zerolog.Nop()),
		registry, policy, nil, rep,
		OrchestratorConfig{}, zerolog.Nop())
	return o, rep
}

const (
	createIntentJSON = `{"primary_service":"calendar","operation":"create_event",
		"parameters":{"summary":"sync","start_time":"2025-05-19T15:00:00Z","end_time":"2025-05-19T16:00:00Z"},
		"confidence":0.9}`
	traceJSON = `{"steps":[{"step_number":1,"description":"resolve the slot","reasoning":"needed","required_services":["calendar"]}]}`
	// The model claims no verification is needed; policy must override it.
	createPlanJSON = `{"actions":[{"service":"calendar","method":"create_event",
		"params":{"summary":"sync","start_time":"2025-05-19T15:00:00Z","end_time":"2025-05-19T16:00:00Z"}}],
		"summary":"Create the sync event","requires_verification":false}`
)

func TestMutatingPlanGatedBehindVerification(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{}
	o, rep := newTestOrchestrator(gen, svc, governance.NewDefaultPolicyEngine())

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)

	require.True(t, conv.AwaitingVerification)
	require.NotNil(t, conv.PendingPlan)
	assert.Empty(t, svc.calls, "nothing may execute before confirmation")
	require.Len(t, rep.sent, 2)
	assert.Contains(t, rep.sent[1], "confirm")

	// An ambiguous reply re-prompts without discarding the plan.
	o.process(context.Background(), "u1", "maybe", conv)
	assert.True(t, conv.AwaitingVerification)
	assert.Empty(t, svc.calls)
	assert.Contains(t, rep.sent[len(rep.sent)-1], `"yes"`)

	// Affirmation releases the plan.
	o.process(context.Background(), "u1", "yes", conv)
	assert.False(t, conv.AwaitingVerification)
	assert.Nil(t, conv.PendingPlan)
	require.Len(t, svc.calls, 1)
	assert.Equal(t, "create_event", svc.calls[0].method)
}

func TestVerificationCancelDiscardsPlan(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{}
	o, rep := newTestOrchestrator(gen, svc, governance.NewDefaultPolicyEngine())

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)
	require.True(t, conv.AwaitingVerification)

	o.process(context.Background(), "u1", "no", conv)
	assert.False(t, conv.AwaitingVerification)
	assert.Nil(t, conv.PendingPlan)
	assert.Empty(t, svc.calls)
	assert.Contains(t, rep.sent[len(rep.sent)-1], "cancelled")
}

func TestBatchContinuesPastFailedAction(t *testing.T) {
	intent := `{"primary_service":"calendar","operation":"list_events","parameters":{}}`
	plan := `{"actions":[
		{"service":"calendar","method":"list_events","params":{}},
		{"service":"calendar","method":"search_events","params":{"query":"x"}},
		{"service":"calendar","method":"find_free_time","params":{}}],
		"summary":"look things up","requires_verification":false}`
	gen := &stubGen{structured: []string{intent, traceJSON, plan}}
	svc := &fakeService{results: []*services.Result{
		services.Success("two events", nil),
		services.Errorf("search backend down"),
		services.Success("free after 4", nil),
	}}
	o, _ := newTestOrchestrator(gen, svc, governance.NewDefaultPolicyEngine())

	conv := &Conversation{}
	o.process(context.Background(), "u1", "what's on my plate", conv)

	// All three ran, in plan order, despite the middle failure.
	require.Len(t, svc.calls, 3)
	assert.Equal(t, "list_events", svc.calls[0].method)
	assert.Equal(t, "search_events", svc.calls[1].method)
	assert.Equal(t, "find_free_time", svc.calls[2].method)
	assert.False(t, conv.AwaitingVerification)
}

func TestDeniedMethodNeverReachesService(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	require.NoError(t, policy.DenyMethod(`^delete_`))
	svc := &fakeService{}
	o, _ := newTestOrchestrator(&stubGen{}, svc, policy)

	res := o.dispatch(context.Background(), "u1", Action{
		Service: "calendar",
		Method:  "delete_event",
		Params:  map[string]any{"event_id": "abc"},
	})
	assert.Equal(t, services.StatusError, res.Status)
	assert.Contains(t, res.Message, "not permitted")
	assert.Empty(t, svc.calls)
}

func TestMissingRequiredParamsYieldErrorResult(t *testing.T) {
	svc := &fakeService{}
	o, _ := newTestOrchestrator(&stubGen{}, svc, &governance.DefaultPolicyEngine{})

	res := o.dispatch(context.Background(), "u1", Action{
		Service: "calendar",
		Method:  "create_event",
		Params:  map[string]any{"summary": "sync"},
	})
	assert.Equal(t, services.StatusError, res.Status)
	assert.Contains(t, res.Message, "start_time")
	assert.Empty(t, svc.calls)
}

// clearCheck is what check_conflicts returns for a free slot; the
// planner consumes one while validating a create action.
func clearCheck() *services.Result {
	return services.Success("Found 0 overlapping events", map[string]any{
		"has_conflicts": false,
		"conflicts":     []map[string]any{},
		"count":         0,
	})
}

func conflictResult() *services.Result {
	return services.Conflict("that slot is taken", map[string]any{
		"conflicts": []map[string]any{{
			"summary": "standup",
			"start":   "2025-05-19T15:30:00Z",
			"end":     "2025-05-19T16:30:00Z",
		}},
	})
}

func TestConflictRoutesToRescheduleDialogue(t *testing.T) {
	// Permissive policy so the create is not gated and the conflict
	// surfaces on the first pass.
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{clearCheck(), conflictResult()}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)

	require.True(t, conv.AwaitingRescheduleChoice)
	require.NotNil(t, conv.OriginalAction)
	require.NotEmpty(t, conv.SuggestedTimes)

	last := rep.sent[len(rep.sent)-1]
	assert.Contains(t, last, "standup")
	assert.Contains(t, last, "1.")
	assert.Contains(t, last, "create anyway")
}

func TestConflictWithoutDetailsStillRoutesConflictPath(t *testing.T) {
	// The service flags the conflict but attaches no event data. The
	// reply must still come from the conflict path, with alternatives
	// derived from the requested slot alone.
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{
		clearCheck(),
		services.Conflict("that slot is taken", nil),
	}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)

	require.True(t, conv.AwaitingRescheduleChoice)
	require.NotEmpty(t, conv.SuggestedTimes)
	last := rep.sent[len(rep.sent)-1]
	assert.NotEqual(t, "done", last, "a conflict must never take the standard response path")
	assert.Contains(t, last, "conflicts")
	assert.Contains(t, last, "1.")
}

func TestConflictWithoutUsableSlotDoesNotArmDialogue(t *testing.T) {
	// No alternatives can be derived from an unparseable slot, so the
	// sub-dialogue stays off and the sender just gets the conflict.
	planJSON := `{"actions":[{"service":"calendar","method":"create_event",
		"params":{"summary":"sync","start_time":"sometime","end_time":"later"}}],
		"summary":"Create the sync event","requires_verification":false}`
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, planJSON}}
	svc := &fakeService{results: []*services.Result{
		clearCheck(),
		services.Conflict("that slot is taken", nil),
	}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync sometime", conv)

	assert.False(t, conv.AwaitingRescheduleChoice)
	last := rep.sent[len(rep.sent)-1]
	assert.True(t, strings.HasPrefix(last, "⚠️"))
	assert.Contains(t, last, "slot is taken")
}

func TestRescheduleChoiceByOptionNumber(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{
		clearCheck(),
		conflictResult(),
		services.Success("Created \"sync\"", nil),
	}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)
	require.True(t, conv.AwaitingRescheduleChoice)
	want := conv.SuggestedTimes[1]

	o.process(context.Background(), "u1", "option 2", conv)

	require.Len(t, svc.calls, 3)
	createCall := svc.calls[2]
	assert.Equal(t, want.Start.Format(time.RFC3339), createCall.params["start_time"])
	assert.Equal(t, want.End.Format(time.RFC3339), createCall.params["end_time"])
	assert.Equal(t, false, createCall.params["check_for_conflicts"])
	assert.False(t, conv.AwaitingRescheduleChoice)
	assert.True(t, strings.HasPrefix(rep.sent[len(rep.sent)-1], "✅"))
}

func TestRescheduleChoiceOutOfRangeReprompts(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{clearCheck(), conflictResult()}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)

	o.process(context.Background(), "u1", "99", conv)
	assert.True(t, conv.AwaitingRescheduleChoice, "out-of-range keeps the dialogue open")
	assert.Len(t, svc.calls, 2)
	assert.Contains(t, rep.sent[len(rep.sent)-1], "Pick a number")

	o.process(context.Background(), "u1", "whichever works", conv)
	assert.True(t, conv.AwaitingRescheduleChoice)
	assert.Len(t, svc.calls, 2)
}

func TestRescheduleCreateAnywayKeepsOriginalSlot(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{
		clearCheck(),
		conflictResult(),
		services.Success("Created \"sync\"", nil),
	}}
	o, _ := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)
	require.True(t, conv.AwaitingRescheduleChoice)

	o.process(context.Background(), "u1", "create anyway", conv)

	require.Len(t, svc.calls, 3)
	assert.Equal(t, "2025-05-19T15:00:00Z", svc.calls[2].params["start_time"])
	assert.Equal(t, false, svc.calls[2].params["check_for_conflicts"])
	assert.False(t, conv.AwaitingRescheduleChoice)
}

func TestRescheduleToCustomTimeKeepsDateAndDuration(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{
		clearCheck(),
		conflictResult(),
		services.Success("Created \"sync\"", nil),
	}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)
	require.True(t, conv.AwaitingRescheduleChoice)

	// Naming a time instead of an option moves the slot to that time on
	// the same day, keeping the one-hour duration.
	o.process(context.Background(), "u1", "9am", conv)

	require.Len(t, svc.calls, 3)
	assert.Equal(t, "2025-05-19T09:00:00Z", svc.calls[2].params["start_time"])
	assert.Equal(t, "2025-05-19T10:00:00Z", svc.calls[2].params["end_time"])
	assert.Equal(t, false, svc.calls[2].params["check_for_conflicts"])
	assert.False(t, conv.AwaitingRescheduleChoice)
	assert.True(t, strings.HasPrefix(rep.sent[len(rep.sent)-1], "✅"))
}

func TestRescheduleCancel(t *testing.T) {
	gen := &stubGen{structured: []string{createIntentJSON, traceJSON, createPlanJSON}}
	svc := &fakeService{results: []*services.Result{clearCheck(), conflictResult()}}
	o, rep := newTestOrchestrator(gen, svc, &governance.DefaultPolicyEngine{})

	conv := &Conversation{}
	o.process(context.Background(), "u1", "schedule a sync at 3pm", conv)
	require.True(t, conv.AwaitingRescheduleChoice)

	o.process(context.Background(), "u1", "cancel", conv)
	assert.False(t, conv.AwaitingRescheduleChoice)
	assert.Nil(t, conv.OriginalAction)
	assert.Len(t, svc.calls, 2)
	assert.Contains(t, rep.sent[len(rep.sent)-1], "won't schedule")
}

func TestParseRescheduleChoice(t *testing.T) {
	tests := []struct {
		in string
		n  int
		ok bool
	}{
		{"1", 1, true},
		{"  2 ", 2, true},
		{"option 3", 3, true},
		{"Option 1", 1, true},
		{"option3", 3, true},
		{"the first one", 0, false},
		{"", 0, false},
		{"cancel", 0, false},
	}
	for _, tt := range tests {
		n, ok := ParseRescheduleChoice(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.n, n, tt.in)
		}
	}
}

func TestModelOutageStillAnswers(t *testing.T) {
	// Every model call fails: intent degrades to unknown, the trace is
	// empty, and the sender still gets a usable reply.
	gen := &stubGen{err: errors.New("model offline")}
	svc := &fakeService{}
	o, rep := newTestOrchestrator(gen, svc, governance.NewDefaultPolicyEngine())

	conv := &Conversation{}
	o.process(context.Background(), "u1", "hello there", conv)

	assert.Empty(t, svc.calls)
	require.NotEmpty(t, rep.sent)
	assert.Contains(t, rep.sent[len(rep.sent)-1], "calendar and email")
}

func TestHandleInboundAsync(t *testing.T) {
	gen := &stubGen{err: errors.New("model offline")}
	o, rep := newTestOrchestrator(gen, &fakeService{}, governance.NewDefaultPolicyEngine())

	o.HandleInbound(context.Background(), "u1", "hello")
	assert.Eventually(t, func() bool { return rep.count() >= 2 }, time.Second, 10*time.Millisecond)
}
