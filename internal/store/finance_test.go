package store

import (
	"context"
	"testing"
	"time"

	"dues-service/internal/model"
	"dues-service/internal/tenancy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuesTypeIsProtected(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		m := f.models(t, f.tenant(t, "Types", "types", model.TenantActive))

		dues, err := m.ContributionType.Dues(ctx)
		require.NoError(t, err)
		assert.True(t, dues.IsSystem)

		name := "Monthly"
		_, err = m.ContributionType.Rename(ctx, dues.ID, &name, nil)
		assert.ErrorIs(t, err, ErrSystemRecord)
		assert.ErrorIs(t, m.ContributionType.Update(ctx, dues), ErrSystemRecord)
		assert.ErrorIs(t, m.ContributionType.Delete(ctx, dues.ID, m.Contribution.Repository), ErrSystemRecord)

		err = m.ContributionType.Create(ctx, &model.ContributionType{Name: " dues "})
		assert.ErrorIs(t, err, tenancy.ErrConflict)

		levy := &model.ContributionType{Name: "Building Levy", IsSystem: true}
		require.NoError(t, m.ContributionType.Create(ctx, levy))
		assert.False(t, levy.IsSystem)

		renamed := "building levy"
		got, err := m.ContributionType.Rename(ctx, levy.ID, &renamed, nil)
		require.NoError(t, err)
		assert.Equal(t, "building levy", got.Name)

		_, err = m.Contribution.Record(ctx, ContributionInput{ContributionTypeID: levy.ID, Amount: 5})
		require.NoError(t, err)
		assert.ErrorIs(t, m.ContributionType.Delete(ctx, levy.ID, m.Contribution.Repository), ErrInUse)

		spare := &model.ContributionType{Name: "Spare"}
		require.NoError(t, m.ContributionType.Create(ctx, spare))
		require.NoError(t, m.ContributionType.Delete(ctx, spare.ID, m.Contribution.Repository))
	})
}

func TestContributionRecording(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		m := f.models(t, f.tenant(t, "Givers", "givers", model.TenantActive))
		member := f.member(t, m, "Ada", 10)

		dues, err := m.ContributionType.Dues(ctx)
		require.NoError(t, err)
		res, err := m.Contribution.Record(ctx, ContributionInput{
			MemberID:           &member.ID,
			ContributionTypeID: dues.ID,
			Amount:             20,
			RecordedBy:         "admin",
		})
		require.NoError(t, err)
		require.NotNil(t, res.Payment)
		assert.Nil(t, res.Contribution)
		assert.Equal(t, 2, res.Payment.Member.MonthsCovered)

		gift := &model.ContributionType{Name: "Gift"}
		require.NoError(t, m.ContributionType.Create(ctx, gift))
		res, err = m.Contribution.Record(ctx, ContributionInput{
			MemberID:           &member.ID,
			ContributionTypeID: gift.ID,
			Amount:             15,
			Description:        "Anniversary",
		})
		require.NoError(t, err)
		require.NotNil(t, res.Contribution)
		assert.Equal(t, model.ReceiptContribution, res.Receipt.ReceiptType)
		require.NotNil(t, res.Receipt.ContributionID)
		assert.Equal(t, res.Contribution.ID, *res.Receipt.ContributionID)

		list, err := m.Contribution.List(ctx, NewQuery())
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].Member)
		assert.Equal(t, "Ada", list[0].Member.Name)

		missing := "nobody"
		_, err = m.Contribution.Record(ctx, ContributionInput{MemberID: &missing, ContributionTypeID: gift.ID, Amount: 1})
		assert.ErrorIs(t, err, tenancy.ErrValidation)
		_, err = m.Contribution.Record(ctx, ContributionInput{ContributionTypeID: "nope", Amount: 1})
		assert.ErrorIs(t, err, tenancy.ErrValidation)
	})
}

func TestSubgroupsAndReports(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		m := f.models(t, f.tenant(t, "Reporters", "reporters", model.TenantActive))

		leader := f.member(t, m, "Ada", 10)
		north := &model.Subgroup{Name: "North", LeaderID: &leader.ID}
		require.NoError(t, m.Subgroup.Create(ctx, north))
		south := &model.Subgroup{Name: "South"}
		require.NoError(t, m.Subgroup.Create(ctx, south))

		stray := "someone-else"
		err := m.Subgroup.Create(ctx, &model.Subgroup{Name: "West", LeaderID: &stray})
		assert.ErrorIs(t, err, tenancy.ErrValidation)

		_, err = m.Member.UpdateFields(ctx, leader.ID, map[string]interface{}{"subgroup_id": north.ID})
		require.NoError(t, err)
		bola := f.member(t, m, "Bola", 10)
		_, err = m.Member.UpdateFields(ctx, bola.ID, map[string]interface{}{"subgroup_id": north.ID})
		require.NoError(t, err)
		f.member(t, m, "Chidi", 10)

		_, err = m.Member.RecordPayment(ctx, PaymentInput{MemberID: leader.ID, Amount: 60})
		require.NoError(t, err)
		_, err = m.Member.RecordPayment(ctx, PaymentInput{MemberID: bola.ID, Amount: 20})
		require.NoError(t, err)
		require.NoError(t, m.Expenditure.Create(ctx, &model.Expenditure{Title: "Tea", Amount: 30, Date: f.clock.Now()}))

		got, err := m.Subgroup.Get(ctx, north.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Leader)
		assert.Equal(t, "Ada", got.Leader.Name)

		stats, err := m.SubgroupPerformance(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 3)
		assert.Equal(t, north.ID, stats[0].ID)
		assert.Equal(t, 80.0, stats[0].TotalCollected)
		assert.EqualValues(t, 2, stats[0].TotalMembers)
		assert.Equal(t, 40.0, stats[0].AveragePerMember)
		require.NotNil(t, stats[0].Leader)
		assert.Equal(t, leader.ID, stats[0].Leader.ID)

		byID := map[string]SubgroupStat{}
		for _, s := range stats {
			byID[s.ID] = s
		}
		assert.EqualValues(t, 1, byID[UnassignedSubgroup].TotalMembers)
		assert.Zero(t, byID[south.ID].TotalMembers)

		dash, err := m.Dashboard(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, dash.TotalMembers)
		assert.Equal(t, 80.0, dash.TotalCollected)
		assert.Equal(t, 30.0, dash.TotalSpent)
		assert.Equal(t, 50.0, dash.Balance)
		// Ada covered 6 of 6 months, Bola 2 and Chidi 0
		assert.Equal(t, 2, dash.MembersInArrears)

		owing, err := m.Arrears(ctx)
		require.NoError(t, err)
		require.Len(t, owing, 2)
		assert.Equal(t, "Chidi", owing[0].Name)

		require.NoError(t, m.Subgroup.Delete(ctx, north.ID))
		detached, err := m.Member.FindByID(ctx, bola.ID)
		require.NoError(t, err)
		assert.Nil(t, detached.SubgroupID)
	})
}

func TestRemindersForArrears(t *testing.T) {
	f := newFixture(t, "shared")
	ctx := context.Background()
	m := f.models(t, f.tenant(t, "Reminders", "reminders", model.TenantActive))

	paid := f.member(t, m, "Paid Up", 10)
	_, err := m.Member.RecordPayment(ctx, PaymentInput{MemberID: paid.ID, Amount: 60})
	require.NoError(t, err)
	owing := f.member(t, m, "Owing", 10)

	due := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	n, err := m.Reminder.QueueArrears(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reminders, err := m.Reminder.Find(ctx, NewQuery())
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, owing.ID, reminders[0].MemberID)
	assert.False(t, reminders[0].Sent)

	sent, err := m.Reminder.MarkSent(ctx, reminders[0].ID)
	require.NoError(t, err)
	assert.True(t, sent.Sent)
	require.NotNil(t, sent.SentAt)
}

type staticSummaries map[string]model.Summary

func (s staticSummaries) Summaries(ctx context.Context, ids []string) (map[string]model.Summary, error) {
	return s, nil
}

func TestExpandSkipsMissingReferences(t *testing.T) {
	a, b := "a", "missing"
	items := []model.Contribution{{MemberID: &a}, {MemberID: &b}, {}}

	err := Expand(context.Background(), items,
		func(c *model.Contribution) *string { return c.MemberID },
		staticSummaries{"a": {ID: "a", Name: "Ada"}},
		func(c *model.Contribution, s *model.Summary) { c.Member = s })
	require.NoError(t, err)

	require.NotNil(t, items[0].Member)
	assert.Equal(t, "Ada", items[0].Member.Name)
	assert.Nil(t, items[1].Member)
	assert.Nil(t, items[2].Member)
}
