package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/project"
)

func sampleRecord() project.Record {
	return project.Record{
		ID:               42,
		Name:             "Tea Set",
		Category:         "design",
		GoalAmount:       1000,
		RaisedAmount:     500,
		BackerCount:      10,
		CompletionRate:   50,
		Status:           project.StatusCrowdfunding,
		RewardTiersCount: 1,
		RewardTiers:      []project.RewardTier{{ID: 1, Title: "Cup", Price: 50, IfShow: 1}},
		Description:      "a tea set",
		Location:         project.Location{Province: "Fujian", City: "Xiamen"},
	}
}

func TestDiffIdentical(t *testing.T) {
	t.Parallel()

	require.Empty(t, Diff(sampleRecord(), sampleRecord()))
}

func TestDiffReportsChangedFields(t *testing.T) {
	t.Parallel()

	prev := sampleRecord()
	cur := sampleRecord()
	cur.RaisedAmount = 600
	cur.Description = "a nicer tea set"
	cur.Location.City = "Fuzhou"
	cur.RewardTiers = []project.RewardTier{{ID: 1, Title: "Cup", Price: 55, IfShow: 1}}

	got := Diff(prev, cur)
	require.Equal(t, []string{FieldDescription, FieldLocation, FieldRaisedAmount, FieldRewardTiers}, got.Names())
	assert.Equal(t, "description,location,raised_amount,reward_tiers", got.String())
}

func TestDetectorDefaults(t *testing.T) {
	t.Parallel()

	d := NewDetector(nil)
	require.ElementsMatch(t, DefaultSignificantFields, d.SignificantFields())

	prev := sampleRecord()
	cosmetic := sampleRecord()
	cosmetic.Description = "edited copy"
	cosmetic.Logo = "new.png"
	require.False(t, d.Significant(prev, cosmetic))

	funded := sampleRecord()
	funded.BackerCount++
	require.True(t, d.Significant(prev, funded))

	tiers := sampleRecord()
	tiers.RewardTiers = append(tiers.RewardTiers, project.RewardTier{ID: 2})
	require.True(t, d.IsSignificant(Diff(prev, tiers)))
}

func TestDetectorCustomFields(t *testing.T) {
	t.Parallel()

	d := NewDetector([]string{" description ", "bogus"})
	require.Equal(t, []string{FieldDescription}, d.SignificantFields())

	prev := sampleRecord()
	cur := sampleRecord()
	cur.RaisedAmount = 9999
	require.False(t, d.Significant(prev, cur))
	cur.Description = "changed"
	require.True(t, d.Significant(prev, cur))
}

func TestValidField(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidField(FieldStatus))
	assert.False(t, ValidField("nope"))
}
