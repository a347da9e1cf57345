package cache

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultPolicyTable_StaleNeverExceedsGC(t *testing.T) {
	table := DefaultPolicyTable()
	if err := table.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	for _, c := range Categories() {
		p := table.Lookup(c)
		if p.StaleTime > p.GCTime {
			t.Errorf("%s: StaleTime %v > GCTime %v", c, p.StaleTime, p.GCTime)
		}
	}
}

func TestDefaultPolicyTable_Values(t *testing.T) {
	tests := []struct {
		category Category
		want     Policy
	}{
		{CategoryCritical, Policy{30 * time.Second, 5 * time.Minute, time.Minute}},
		{CategoryRealtime, Policy{0, 2 * time.Minute, 30 * time.Second}},
		{CategoryDynamic, Policy{time.Minute, 10 * time.Minute, 0}},
		{CategoryStandard, Policy{5 * time.Minute, 15 * time.Minute, 0}},
		{CategoryStatic, Policy{30 * time.Minute, time.Hour, 0}},
		{CategoryReference, Policy{time.Hour, 24 * time.Hour, 0}},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			if got := PolicyFor(tt.category); got != tt.want {
				t.Errorf("PolicyFor(%s) = %+v, want %+v", tt.category, got, tt.want)
			}
		})
	}
}

func TestDefaultPolicyTable_IsCopy(t *testing.T) {
	table := DefaultPolicyTable()
	table[CategoryStandard] = Policy{}
	if PolicyFor(CategoryStandard).GCTime == 0 {
		t.Error("mutating DefaultPolicyTable() changed the built-in table")
	}
}

func TestPolicyTable_LookupFallsBackToStandard(t *testing.T) {
	if got, want := PolicyFor("unknown"), PolicyFor(CategoryStandard); got != want {
		t.Errorf("PolicyFor(unknown) = %+v, want %+v", got, want)
	}

	custom := PolicyTable{CategoryStandard: {StaleTime: time.Second, GCTime: time.Minute}}
	if got := custom.Lookup(CategoryStatic); got.StaleTime != time.Second {
		t.Errorf("Lookup(static) = %+v, want table's standard policy", got)
	}

	empty := PolicyTable{}
	if got := empty.Lookup(CategoryStatic); got != PolicyFor(CategoryStandard) {
		t.Errorf("empty.Lookup(static) = %+v, want built-in standard", got)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"zero", Policy{}, false},
		{"stale below gc", Policy{StaleTime: time.Second, GCTime: time.Minute}, false},
		{"stale above gc", Policy{StaleTime: time.Hour, GCTime: time.Minute}, true},
		{"negative", Policy{StaleTime: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_IsStale(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{StaleTime: 30 * time.Second, GCTime: time.Minute}

	if p.IsStale(base, base.Add(29*time.Second)) {
		t.Error("IsStale() = true before stale time")
	}
	if !p.IsStale(base, base.Add(30*time.Second)) {
		t.Error("IsStale() = false at stale time")
	}
	if !PolicyFor(CategoryRealtime).IsStale(base, base) {
		t.Error("realtime data should be stale immediately")
	}
	if p.Collectable(base, base.Add(59*time.Second)) {
		t.Error("Collectable() = true before gc time")
	}
	if !p.Collectable(base, base.Add(time.Minute)) {
		t.Error("Collectable() = false at gc time")
	}
}
