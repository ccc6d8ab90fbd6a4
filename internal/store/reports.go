package store

import (
	"context"
	"sort"

	"dues-service/internal/model"
)

// UnassignedSubgroup keys members without a subgroup in performance reports
const UnassignedSubgroup = "unassigned"

// Dashboard is the tenant's financial overview
type Dashboard struct {
	TotalMembers       int64   `json:"total_members"`
	TotalDues          float64 `json:"total_dues"`
	TotalContributions float64 `json:"total_contributions"`
	TotalCollected     float64 `json:"total_collected"`
	TotalSpent         float64 `json:"total_spent"`
	Balance            float64 `json:"balance"`
	MembersInArrears   int     `json:"members_in_arrears"`
}

// SubgroupStat is the collection performance of one subgroup
type SubgroupStat struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Leader           *model.Summary `json:"leader"`
	TotalCollected   float64        `json:"total_collected"`
	TotalMembers     int64          `json:"total_members"`
	AveragePerMember float64        `json:"average_per_member"`
}

// Dashboard computes the tenant overview. Arrears come from the derived
// member values, not from anything stored.
func (m *Models) Dashboard(ctx context.Context) (*Dashboard, error) {
	members, err := m.Member.Find(ctx, NewQuery())
	if err != nil {
		return nil, err
	}
	d := &Dashboard{TotalMembers: int64(len(members))}
	for _, mem := range members {
		d.TotalDues += mem.TotalPaid
		if mem.Arrears > 0 {
			d.MembersInArrears++
		}
	}
	if d.TotalContributions, err = m.Contribution.Sum(ctx, NewQuery(), "amount"); err != nil {
		return nil, err
	}
	if d.TotalSpent, err = m.Expenditure.Sum(ctx, NewQuery(), "amount"); err != nil {
		return nil, err
	}
	d.TotalCollected = d.TotalDues + d.TotalContributions
	d.Balance = d.TotalCollected - d.TotalSpent
	return d, nil
}

// SubgroupPerformance totals member payments per subgroup, best first.
// Members without a subgroup are reported under UnassignedSubgroup.
func (m *Models) SubgroupPerformance(ctx context.Context) ([]SubgroupStat, error) {
	totals, err := m.Member.SumBy(ctx, NewQuery(), "subgroup_id", "total_paid")
	if err != nil {
		return nil, err
	}
	groups, err := m.Subgroup.List(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]GroupTotal, len(totals))
	for _, t := range totals {
		key := UnassignedSubgroup
		if t.Key != nil {
			key = *t.Key
		}
		byKey[key] = t
	}

	stats := make([]SubgroupStat, 0, len(groups)+1)
	for _, g := range groups {
		t := byKey[g.ID]
		stats = append(stats, newSubgroupStat(g.ID, g.Name, g.Leader, t))
	}
	if t, ok := byKey[UnassignedSubgroup]; ok {
		stats = append(stats, newSubgroupStat(UnassignedSubgroup, "Unassigned", nil, t))
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].TotalCollected > stats[j].TotalCollected
	})
	return stats, nil
}

func newSubgroupStat(id, name string, leader *model.Summary, t GroupTotal) SubgroupStat {
	s := SubgroupStat{
		ID:             id,
		Name:           name,
		Leader:         leader,
		TotalCollected: t.Sum,
		TotalMembers:   t.Count,
	}
	if t.Count > 0 {
		s.AveragePerMember = t.Sum / float64(t.Count)
	}
	return s
}

// Arrears lists members owing at least one month, most owed first
func (m *Models) Arrears(ctx context.Context) ([]model.Member, error) {
	members, err := m.Member.Find(ctx, NewQuery().OrderBy("name", false))
	if err != nil {
		return nil, err
	}
	owing := members[:0]
	for _, mem := range members {
		if mem.Arrears > 0 {
			owing = append(owing, mem)
		}
	}
	sort.SliceStable(owing, func(i, j int) bool { return owing[i].Arrears > owing[j].Arrears })
	return owing, nil
}
