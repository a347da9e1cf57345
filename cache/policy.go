package cache

import (
	"fmt"
	"sort"
	"time"
)

// Category names a class of data with shared freshness rules. The set is
// fixed; every query picks one.
type Category string

const (
	// CategoryCritical covers ledger entries, payments and balances.
	CategoryCritical Category = "critical"
	// CategoryRealtime covers live metrics, logs and presence. Never persisted.
	CategoryRealtime Category = "realtime"
	// CategoryDynamic covers tasks, editorial calendars and notifications.
	CategoryDynamic Category = "dynamic"
	// CategoryStandard is the default for CRM records.
	CategoryStandard Category = "standard"
	// CategoryStatic covers chart of accounts, cost centers and templates.
	CategoryStatic Category = "static"
	// CategoryReference covers lookup tables that change on deploys.
	CategoryReference Category = "reference"
)

// Policy holds the freshness rules of one category.
type Policy struct {
	// StaleTime is how long fetched data is served without a refetch.
	// Zero means the data is stale as soon as it arrives.
	StaleTime time.Duration

	// GCTime is how long an entry may go unread before Sweep removes it.
	GCTime time.Duration

	// RefetchInterval, when non-zero, drives Store.RunRefetch.
	RefetchInterval time.Duration
}

// PolicyTable maps categories to policies.
type PolicyTable map[Category]Policy

var defaultTable = PolicyTable{
	CategoryCritical:  {StaleTime: 30 * time.Second, GCTime: 5 * time.Minute, RefetchInterval: time.Minute},
	CategoryRealtime:  {StaleTime: 0, GCTime: 2 * time.Minute, RefetchInterval: 30 * time.Second},
	CategoryDynamic:   {StaleTime: time.Minute, GCTime: 10 * time.Minute},
	CategoryStandard:  {StaleTime: 5 * time.Minute, GCTime: 15 * time.Minute},
	CategoryStatic:    {StaleTime: 30 * time.Minute, GCTime: time.Hour},
	CategoryReference: {StaleTime: time.Hour, GCTime: 24 * time.Hour},
}

// DefaultPolicyTable returns a copy of the built-in policy table.
func DefaultPolicyTable() PolicyTable {
	t := make(PolicyTable, len(defaultTable))
	for c, p := range defaultTable {
		t[c] = p
	}
	return t
}

// PolicyFor returns the built-in policy for c.
func PolicyFor(c Category) Policy {
	return defaultTable.Lookup(c)
}

// Categories returns the built-in categories in sorted order.
func Categories() []Category {
	out := make([]Category, 0, len(defaultTable))
	for c := range defaultTable {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup returns the policy for c. Unknown categories fall back to the
// standard policy of the table, then to the built-in standard policy.
func (t PolicyTable) Lookup(c Category) Policy {
	if p, ok := t[c]; ok {
		return p
	}
	if p, ok := t[CategoryStandard]; ok {
		return p
	}
	return defaultTable[CategoryStandard]
}

// Validate checks every policy in the table.
func (t PolicyTable) Validate() error {
	for c, p := range t {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("category %q: %w", c, err)
		}
	}
	return nil
}

// Validate checks that durations are non-negative and that an entry is never
// collected before it turns stale.
func (p Policy) Validate() error {
	if p.StaleTime < 0 || p.GCTime < 0 || p.RefetchInterval < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidPolicy)
	}
	if p.StaleTime > p.GCTime {
		return fmt.Errorf("%w: stale time %v exceeds gc time %v", ErrInvalidPolicy, p.StaleTime, p.GCTime)
	}
	return nil
}

// IsStale reports whether data fetched at updatedAt is stale at now.
func (p Policy) IsStale(updatedAt, now time.Time) bool {
	return now.Sub(updatedAt) >= p.StaleTime
}

// Collectable reports whether an entry last read at lastAccess may be
// removed at now.
func (p Policy) Collectable(lastAccess, now time.Time) bool {
	return now.Sub(lastAccess) >= p.GCTime
}

// Refetches reports whether the policy defines a refetch interval.
func (p Policy) Refetches() bool {
	return p.RefetchInterval > 0
}
