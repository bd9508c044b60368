// Package ordering defines the deterministic orders used whenever cases or
// officers are rendered, exported or persisted.
package ordering

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/syvkst/curia/pkg/types"
)

// Officer role ranks. Lower ranks sort first; every role outside the known
// set shares RankOther.
const (
	RankPresiding = iota
	RankSecretary
	RankMember
	RankProsecutor
	RankOther
)

var officerRanks = map[types.OfficerRole]int{
	types.RolePresiding:  RankPresiding,
	types.RoleSecretary:  RankSecretary,
	types.RoleMember:     RankMember,
	types.RoleProsecutor: RankProsecutor,
}

// OfficerRank returns the fixed precedence of a role tag.
func OfficerRank(role types.OfficerRole) int {
	if rank, ok := officerRanks[role]; ok {
		return rank
	}
	return RankOther
}

// CompareOfficers orders officers by role rank.
func CompareOfficers(a, b types.Officer) int {
	return cmp.Compare(OfficerRank(a.Type), OfficerRank(b.Type))
}

// SortOfficers returns a copy of officers in role order. Officers sharing a
// rank keep their input order.
func SortOfficers(officers []types.Officer) []types.Officer {
	if officers == nil {
		return nil
	}
	sorted := slices.Clone(officers)
	slices.SortStableFunc(sorted, CompareOfficers)
	return sorted
}

// CompareCaseTime orders two cases by time of day, looking only at hour and
// minute. A malformed time aborts the comparison with types.ErrMalformedTime.
func CompareCaseTime(a, b types.Case) (int, error) {
	am, err := caseMinutes(a)
	if err != nil {
		return 0, err
	}
	bm, err := caseMinutes(b)
	if err != nil {
		return 0, err
	}
	return cmp.Compare(am, bm), nil
}

// SortCasesByTime returns a copy of cases in ascending time-of-day order.
// Cases at the same minute keep their input order. Every time is validated
// before sorting starts, so a malformed value leaves nothing half-sorted.
func SortCasesByTime(cases []types.Case) ([]types.Case, error) {
	keys, err := minuteKeys(cases)
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(cases))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(keys[a], keys[b])
	})

	sorted := make([]types.Case, len(cases))
	for i, from := range idx {
		sorted[i] = cases[from].Clone()
	}
	return sorted, nil
}

// IsTimeSorted reports whether cases are already in non-decreasing
// time-of-day order.
func IsTimeSorted(cases []types.Case) (bool, error) {
	keys, err := minuteKeys(cases)
	if err != nil {
		return false, err
	}
	return slices.IsSorted(keys), nil
}

func minuteKeys(cases []types.Case) ([]int, error) {
	keys := make([]int, len(cases))
	for i, c := range cases {
		m, err := caseMinutes(c)
		if err != nil {
			return nil, err
		}
		keys[i] = m
	}
	return keys, nil
}

func caseMinutes(c types.Case) (int, error) {
	m, err := c.Time.Minutes()
	if err != nil {
		return 0, fmt.Errorf("case %q: %w", c.ID, err)
	}
	return m, nil
}
