package services

import (
	"context"
	"fmt"
)

// Status classifies the outcome of one executed action. Conflict is a
// first-class outcome, not an error: it feeds the reschedule dialogue.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Result is the per-action execution outcome returned by a service.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func Success(message string, data map[string]any) *Result {
	return &Result{Status: StatusSuccess, Message: message, Data: data}
}

func Conflict(message string, data map[string]any) *Result {
	return &Result{Status: StatusConflict, Message: message, Data: data}
}

func Errorf(format string, args ...any) *Result {
	return &Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// Service is an external collaborator (calendar, email) exposed to the
// planner as a named method dispatcher.
type Service interface {
	Execute(ctx context.Context, method string, params map[string]any) (*Result, error)
}

// Registry maps service names to handles. It is populated during wiring
// and read-only afterwards.
type Registry struct {
	services map[string]Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

func (r *Registry) Register(name string, s Service) {
	r.services[name] = s
}

func (r *Registry) Get(name string) (Service, bool) {
	s, ok := r.services[name]
	return s, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// String helpers for the loosely typed params maps that flow from the
// planner's structured output.

func StringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func IntParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func BoolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
