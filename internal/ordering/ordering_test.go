package ordering

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syvkst/curia/pkg/types"
)

func caseAt(id string, at types.ClockTime) types.Case {
	return types.Case{ID: id, Time: at}
}

func caseIDs(cases []types.Case) []string {
	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.ID)
	}
	return ids
}

func officerIDs(officers []types.Officer) []string {
	ids := make([]string, 0, len(officers))
	for _, o := range officers {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestOfficerRank(t *testing.T) {
	assert.Equal(t, 0, OfficerRank(types.RolePresiding))
	assert.Equal(t, 1, OfficerRank(types.RoleSecretary))
	assert.Equal(t, 2, OfficerRank(types.RoleMember))
	assert.Equal(t, 3, OfficerRank(types.RoleProsecutor))
	assert.Equal(t, 4, OfficerRank("layman"))
	assert.Equal(t, 4, OfficerRank(""))
}

func TestCompareOfficers_IsTotalAndTransitive(t *testing.T) {
	roles := []types.OfficerRole{
		types.RolePresiding, types.RoleSecretary, types.RoleMember,
		types.RoleProsecutor, "layman", "interpreter",
	}

	for _, a := range roles {
		for _, b := range roles {
			ab := CompareOfficers(types.Officer{Type: a}, types.Officer{Type: b})
			ba := CompareOfficers(types.Officer{Type: b}, types.Officer{Type: a})
			assert.Equalf(t, -ab, ba, "antisymmetry %s/%s", a, b)

			for _, c := range roles {
				bc := CompareOfficers(types.Officer{Type: b}, types.Officer{Type: c})
				ac := CompareOfficers(types.Officer{Type: a}, types.Officer{Type: c})
				if ab <= 0 && bc <= 0 {
					assert.LessOrEqualf(t, ac, 0, "transitivity %s<=%s<=%s", a, b, c)
				}
			}
		}
	}
}

func TestSortOfficers(t *testing.T) {
	officers := []types.Officer{
		{ID: "other-1", Type: "layman"},
		{ID: "prosecutor", Type: types.RoleProsecutor},
		{ID: "member-1", Type: types.RoleMember},
		{ID: "secretary", Type: types.RoleSecretary},
		{ID: "other-2", Type: "interpreter"},
		{ID: "member-2", Type: types.RoleMember},
		{ID: "presiding", Type: types.RolePresiding},
	}
	input := slices.Clone(officers)

	sorted := SortOfficers(officers)
	assert.Equal(t,
		[]string{"presiding", "secretary", "member-1", "member-2", "prosecutor", "other-1", "other-2"},
		officerIDs(sorted),
	)
	assert.Equal(t, input, officers, "input must not be reordered")

	assert.Equal(t, sorted, SortOfficers(sorted), "sorting is idempotent")
	assert.Nil(t, SortOfficers(nil))
}

func TestCompareCaseTime(t *testing.T) {
	got, err := CompareCaseTime(caseAt("a", "09:00"), caseAt("b", "14:00"))
	require.NoError(t, err)
	assert.Equal(t, -1, got)

	got, err = CompareCaseTime(caseAt("a", "2024-01-01T09:00:10Z"), caseAt("b", "2030-06-30T09:00:55Z"))
	require.NoError(t, err)
	assert.Equal(t, 0, got, "date and seconds are ignored")

	_, err = CompareCaseTime(caseAt("a", "09:00"), caseAt("bad", "soon"))
	assert.ErrorIs(t, err, types.ErrMalformedTime)
	assert.Contains(t, err.Error(), `case "bad"`)
}

func TestSortCasesByTime_PreservesInputOrderOnTies(t *testing.T) {
	cases := []types.Case{
		caseAt("1", "14:00"),
		caseAt("2", "09:00"),
		caseAt("3", "09:00"),
	}

	sorted, err := SortCasesByTime(cases)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "1"}, caseIDs(sorted))
	assert.Equal(t, []string{"1", "2", "3"}, caseIDs(cases))

	again, err := SortCasesByTime(sorted)
	require.NoError(t, err)
	assert.Equal(t, sorted, again)
}

func TestSortCasesByTime_MalformedAborts(t *testing.T) {
	cases := []types.Case{caseAt("1", "14:00"), caseAt("2", "??")}

	sorted, err := SortCasesByTime(cases)
	assert.ErrorIs(t, err, types.ErrMalformedTime)
	assert.Nil(t, sorted)
	assert.Equal(t, []string{"1", "2"}, caseIDs(cases))
}

func TestIsTimeSorted(t *testing.T) {
	sorted, err := IsTimeSorted([]types.Case{caseAt("1", "08:00"), caseAt("2", "08:00"), caseAt("3", "10:30")})
	require.NoError(t, err)
	assert.True(t, sorted)

	sorted, err = IsTimeSorted([]types.Case{caseAt("1", "10:30"), caseAt("2", "08:00")})
	require.NoError(t, err)
	assert.False(t, sorted)

	sorted, err = IsTimeSorted(nil)
	require.NoError(t, err)
	assert.True(t, sorted)

	_, err = IsTimeSorted([]types.Case{caseAt("1", "")})
	assert.ErrorIs(t, err, types.ErrMalformedTime)
}
