package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	// EffectAllow lets an action run without user involvement.
	EffectAllow Effect = "allow"
	// EffectVerify requires an explicit user confirmation first.
	EffectVerify Effect = "verify"
	// EffectDeny blocks the action outright.
	EffectDeny Effect = "deny"
)

// Request contains the context of an action to be evaluated.
type Request struct {
	Service string
	Method  string
	ChatID  string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates planned actions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine classifies methods by name: anything matching a
// mutating pattern needs verification, denied patterns are blocked, and
// reads pass through.
type DefaultPolicyEngine struct {
	VerifyPatterns []*regexp.Regexp
	DeniedPatterns []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	e := &DefaultPolicyEngine{}
	// State-mutating service calls always go through the verification gate.
	_ = e.VerifyMethod(`^(create|update|delete|send|reply|reschedule|schedule)_`)
	return e
}

func (e *DefaultPolicyEngine) VerifyMethod(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.VerifyPatterns = append(e.VerifyPatterns, re)
	return nil
}

func (e *DefaultPolicyEngine) DenyMethod(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedPatterns = append(e.DeniedPatterns, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	for _, re := range e.DeniedPatterns {
		if re.MatchString(req.Method) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Method '%s.%s' is restricted by policy", req.Service, req.Method),
			}, nil
		}
	}

	for _, re := range e.VerifyPatterns {
		if re.MatchString(req.Method) {
			return Result{
				Effect: EffectVerify,
				Reason: fmt.Sprintf("'%s.%s' mutates external state", req.Service, req.Method),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Read-only operation",
	}, nil
}
