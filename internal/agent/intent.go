package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahul/concierge/internal/llm"
	"github.com/rahul/concierge/internal/timeutil"
)

// intentSchema is handed to the model as the required output shape.
var intentSchema = map[string]any{
	"primary_service": "calendar | email | unknown",
	"operation":       "short snake_case verb phrase, e.g. create_event, list_events, send_email",
	"parameters": map[string]any{
		"summary":       "event title or email subject, if any",
		"date_expr":     "raw date expression from the message, e.g. 'tomorrow', 'next friday'",
		"time_expr":     "raw time expression, e.g. '3pm', '14:30', 'noon'",
		"duration_expr": "raw duration expression, e.g. '2 hours', '90 minutes'",
		"location":      "location, if mentioned",
		"description":   "free-text details",
		"to":            "email recipient, if any",
		"body":          "email body, if any",
		"query":         "search text for list/search operations",
		"event_id":      "event identifier when the user refers to a known event",
		"email_id":      "email identifier when replying to a known email",
	},
	"confidence": "0.0 - 1.0",
}

// IntentParser turns a raw message into a structured Intent. It never
// fails upward: when the model cannot produce usable output the parser
// degrades to an unknown intent so the pipeline can still answer.
type IntentParser struct {
	llm  llm.Generator
	norm *timeutil.Normalizer
	log  zerolog.Logger
}

func NewIntentParser(gen llm.Generator, norm *timeutil.Normalizer, log zerolog.Logger) *IntentParser {
	return &IntentParser{llm: gen, norm: norm, log: log.With().Str("component", "intent").Logger()}
}

func (p *IntentParser) systemPrompt() string {
	now := p.norm.Now()
	return fmt.Sprintf(`You classify user messages for a personal assistant that manages a calendar and email.
Today is %s (%s). Tomorrow is %s.
Copy date and time expressions verbatim into date_expr / time_expr / duration_expr; do not resolve them yourself.
When the message fits neither calendar nor email, use primary_service "unknown" and operation "general_query".
Respond with JSON only.`,
		now.Format("Monday, January 2, 2006"),
		now.Format("2006-01-02"),
		now.AddDate(0, 0, 1).Format("2006-01-02"))
}

// Parse classifies one message. The returned intent always has a
// primary service and operation, falling back to unknown/general_query.
func (p *IntentParser) Parse(ctx context.Context, message string) *Intent {
	var intent Intent
	err := p.llm.GenerateStructured(ctx, message, intentSchema, &intent,
		llm.WithSystemMessage(p.systemPrompt()),
		llm.WithTemperature(0.3))
	if err != nil {
		p.log.Warn().Err(err).Msg("intent parse failed, degrading to unknown")
		return &Intent{
			PrimaryService: ServiceUnknown,
			Operation:      "general_query",
			Parameters:     map[string]any{"raw_message": message},
			Confidence:     0.1,
		}
	}
	p.sanitize(&intent)
	p.log.Debug().
		Str("service", string(intent.PrimaryService)).
		Str("operation", intent.Operation).
		Float64("confidence", intent.Confidence).
		Msg("intent parsed")
	return &intent
}

// sanitize clamps model output into the closed service set and resolves
// relative time expressions into absolute timestamps.
func (p *IntentParser) sanitize(intent *Intent) {
	switch intent.PrimaryService {
	case ServiceCalendar, ServiceEmail:
	default:
		intent.PrimaryService = ServiceUnknown
	}
	if intent.Operation == "" {
		intent.Operation = "general_query"
	}
	if intent.Parameters == nil {
		intent.Parameters = map[string]any{}
	}

	dateExpr, _ := intent.Parameters["date_expr"].(string)
	timeExpr, _ := intent.Parameters["time_expr"].(string)
	durExpr, _ := intent.Parameters["duration_expr"].(string)
	if dateExpr == "" && timeExpr == "" {
		return
	}
	start, end := p.norm.Normalize(dateExpr, timeExpr, durExpr)
	if _, ok := intent.Parameters["start_time"]; !ok {
		intent.Parameters["start_time"] = start.Format(time.RFC3339)
	}
	if _, ok := intent.Parameters["end_time"]; !ok {
		intent.Parameters["end_time"] = end.Format(time.RFC3339)
	}
}
