package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tessera-sec/gatewise/internal/policy"
)

var ctx = context.Background()

func validUpsert() policy.Upsert {
	return policy.Upsert{
		Rules:     []policy.Rule{{Action: "deny"}},
		DataTypes: []string{"pii"},
		Actions:   []string{"read"},
	}
}

func TestUpsert_versionStrictlyIncrements(t *testing.T) {
	s := policy.NewMemoryStore()

	p1, err := s.Upsert(ctx, "p1", validUpsert())
	if err != nil {
		t.Fatal(err)
	}
	if p1.Version != 1 {
		t.Errorf("first version = %d, want 1", p1.Version)
	}
	if !p1.Active {
		t.Error("policy not active after upsert")
	}

	p2, err := s.Upsert(ctx, "p1", validUpsert())
	if err != nil {
		t.Fatal(err)
	}
	if p2.Version != p1.Version+1 {
		t.Errorf("second version = %d, want %d", p2.Version, p1.Version+1)
	}
}

func TestUpsert_invalidPayloadMutatesNothing(t *testing.T) {
	s := policy.NewMemoryStore()
	if _, err := s.Upsert(ctx, "p1", validUpsert()); err != nil {
		t.Fatal(err)
	}

	bad := policy.Upsert{DataTypes: []string{"pii"}, Actions: []string{"read"}} // no rules
	if _, err := s.Upsert(ctx, "p1", bad); !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}

	p, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != 1 {
		t.Errorf("failed upsert mutated version to %d", p.Version)
	}
}

func TestUpsert_reactivatesDeactivatedPolicy(t *testing.T) {
	s := policy.NewMemoryStore()
	s.Upsert(ctx, "p1", validUpsert())
	if err := s.Deactivate(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	p, err := s.Upsert(ctx, "p1", validUpsert())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Active {
		t.Error("upsert must reactivate the policy")
	}
	if p.Version != 2 {
		t.Errorf("version = %d, want 2", p.Version)
	}
}

func TestActive_excludesDeactivated(t *testing.T) {
	s := policy.NewMemoryStore()
	s.Upsert(ctx, "p1", validUpsert())
	s.Upsert(ctx, "p2", validUpsert())

	if err := s.Deactivate(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := active["p1"]; ok {
		t.Error("deactivated policy p1 still reported active")
	}
	if _, ok := active["p2"]; !ok {
		t.Error("p2 missing from active set")
	}
}

func TestDeactivate_unknownPolicy(t *testing.T) {
	s := policy.NewMemoryStore()
	if err := s.Deactivate(ctx, "ghost"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_unknownPolicy(t *testing.T) {
	s := policy.NewMemoryStore()
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidate_requiredFields(t *testing.T) {
	tests := []struct {
		name    string
		upsert  policy.Upsert
		wantErr bool
	}{
		{"complete", validUpsert(), false},
		{"missing rules", policy.Upsert{DataTypes: []string{"pii"}, Actions: []string{"read"}}, true},
		{"missing data types", policy.Upsert{Rules: []policy.Rule{}, Actions: []string{"read"}}, true},
		{"missing actions", policy.Upsert{Rules: []policy.Rule{}, DataTypes: []string{"pii"}}, true},
		{"empty but present", policy.Upsert{Rules: []policy.Rule{}, DataTypes: []string{}, Actions: []string{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.upsert.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActive_returnsCopies(t *testing.T) {
	s := policy.NewMemoryStore()
	s.Upsert(ctx, "p1", validUpsert())

	active, _ := s.Active(ctx)
	active["p1"].Active = false

	again, _ := s.Active(ctx)
	if _, ok := again["p1"]; !ok {
		t.Error("mutating a returned policy leaked into the store")
	}
}

func TestGet_returnedSlicesAndMapsDoNotAliasStore(t *testing.T) {
	s := policy.NewMemoryStore()
	up := policy.Upsert{
		Rules:     []policy.Rule{{ID: "r1", Type: "temporal", Conditions: map[string]string{"hours": "9-17"}, Action: "allow"}},
		DataTypes: []string{"pii"},
		Actions:   []string{"read"},
	}
	if _, err := s.Upsert(ctx, "p1", up); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	got.Rules[0].Action = "deny"
	got.Rules[0].Conditions["hours"] = "0-0"
	got.DataTypes[0] = "mutated"
	got.Actions[0] = "mutated"

	fresh, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Rules[0].Action != "allow" {
		t.Errorf("rule action = %q, mutation of a returned policy reached the store", fresh.Rules[0].Action)
	}
	if fresh.Rules[0].Conditions["hours"] != "9-17" {
		t.Errorf("rule conditions = %v, mutation of a returned policy reached the store", fresh.Rules[0].Conditions)
	}
	if fresh.DataTypes[0] != "pii" || fresh.Actions[0] != "read" {
		t.Errorf("data_types/actions mutated: %v %v", fresh.DataTypes, fresh.Actions)
	}
}

func TestUpsert_callerPayloadDoesNotAliasStore(t *testing.T) {
	s := policy.NewMemoryStore()
	up := policy.Upsert{
		Rules:     []policy.Rule{{Conditions: map[string]string{"max_risk": "0.7"}, Action: "allow"}},
		DataTypes: []string{"pii"},
		Actions:   []string{"read"},
	}
	returned, err := s.Upsert(ctx, "p1", up)
	if err != nil {
		t.Fatal(err)
	}

	// Mutate both the original payload and the returned policy.
	up.Rules[0].Conditions["max_risk"] = "1.0"
	up.DataTypes[0] = "mutated"
	returned.Rules[0].Conditions["max_risk"] = "0.0"

	fresh, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Rules[0].Conditions["max_risk"] != "0.7" {
		t.Errorf("stored conditions = %v, caller mutation reached the store", fresh.Rules[0].Conditions)
	}
	if fresh.DataTypes[0] != "pii" {
		t.Errorf("stored data_types = %v, caller mutation reached the store", fresh.DataTypes)
	}
}
