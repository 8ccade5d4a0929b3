// Package policy stores versioned access policies.
//
// A policy is created or replaced through Upsert, which validates the
// payload, increments the stored version, and marks the policy active.
// Policies are never deleted: Deactivate soft-disables them so history is
// preserved. Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and single-node deployments.
//   - PostgresStore: durable, for production use.
package policy

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPolicy is returned by Upsert when the payload fails validation.
var ErrInvalidPolicy = errors.New("policy missing required fields")

// ErrNotFound is returned when no policy exists for the given identifier.
var ErrNotFound = errors.New("policy not found")

// Policy is a versioned policy definition.
type Policy struct {
	ID        string    `json:"id"`
	Rules     []Rule    `json:"rules"`
	DataTypes []string  `json:"data_types"`
	Actions   []string  `json:"actions"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rule is a single rule inside a policy. Conditions are open-ended;
// the engine treats active policies as advisory metadata and does not
// evaluate rule content against requests.
type Rule struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type,omitempty"`
	Conditions map[string]string `json:"conditions,omitempty"`
	Action     string            `json:"action,omitempty"`
}

// clone returns a deep copy: mutating the result's Rules, Conditions,
// DataTypes, or Actions leaves the receiver untouched.
func (p *Policy) clone() *Policy {
	out := *p
	out.Rules = cloneRules(p.Rules)
	out.DataTypes = append([]string(nil), p.DataTypes...)
	out.Actions = append([]string(nil), p.Actions...)
	return &out
}

func cloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = r
		if r.Conditions != nil {
			conds := make(map[string]string, len(r.Conditions))
			for k, v := range r.Conditions {
				conds[k] = v
			}
			out[i].Conditions = conds
		}
	}
	return out
}

// Upsert is the payload for creating or replacing a policy.
type Upsert struct {
	Rules     []Rule   `json:"rules"`
	DataTypes []string `json:"data_types"`
	Actions   []string `json:"actions"`
}

// Validate performs the structural check on an upsert payload independent
// of storage state: rules, data_types, and actions must all be present.
func (u Upsert) Validate() error {
	if u.Rules == nil || u.DataTypes == nil || u.Actions == nil {
		return ErrInvalidPolicy
	}
	return nil
}

// Store is the persistence interface for policies.
type Store interface {
	// Upsert validates data and writes a new version of the policy,
	// activating it. The stored version strictly increases on every call
	// for the same id. A validation failure leaves stored state untouched.
	Upsert(ctx context.Context, id string, data Upsert) (*Policy, error)

	// Get returns the policy for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Policy, error)

	// Active returns all currently active policies keyed by id. Callers
	// must treat the result as an unordered set of constraints.
	Active(ctx context.Context) (map[string]*Policy, error)

	// Deactivate clears the active flag without deleting the policy.
	Deactivate(ctx context.Context, id string) error
}
