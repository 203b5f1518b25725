package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitabu/swapcycle/internal/model"
)

// pairListings is two users at the same Nairobi school who want each
// other's book — the smallest possible swap cycle.
func pairListings() []model.SwapListing {
	a := swapListing(1, 10, 100, "Primary Mathematics Grade 5", "Science Companion")
	b := swapListing(2, 20, 100, "Science Companion Grade 5", "Primary Mathematics")
	pt := model.GeoPoint{Lat: -1.2921, Lon: 36.8219}
	a.Location.Coords = &pt
	b.Location.Coords = &pt
	return []model.SwapListing{a, b}
}

func newTestDetector(src ListingSource) (*Detector, *fakeCycleStore, *fakeDropPointStore, *fakeNotificationStore) {
	cycles := newFakeCycleStore()
	dropPoints := &fakeDropPointStore{}
	notifications := &fakeNotificationStore{}
	d := NewDetector(
		NewGraphBuilder(src),
		cycles,
		newFakeReliabilityStore(),
		NewDropPointSelector(dropPoints),
		notifications,
		48*time.Hour, 168*time.Hour,
	)
	return d, cycles, dropPoints, notifications
}

func TestFindCycles_TwoWaySameSchool(t *testing.T) {
	d, _, _, _ := newTestDetector(&fakeListingSource{listings: pairListings()})

	cycles, err := d.FindCycles(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	c := cycles[0]
	require.Len(t, c.Nodes, 2)
	assert.True(t, c.TotalCost.IsZero(), "same-school swap costs nothing")
	assert.True(t, c.IsSameCounty)
	assert.Equal(t, "nairobi", c.PrimaryCounty)

	// geography 100, reliability 50, cost 0, proximity tight, same county:
	// 0.35·100 + 0.25·50 + 0.20·100 + 0.15·100 + 0.05·100
	assert.InDelta(t, 87.5, c.PriorityScore, 0.001)
}

func TestFindCycles_RingOrientation(t *testing.T) {
	// Three users: 10 wants B, 20 wants C, 30 wants A. Books must flow so
	// each receiver's want is satisfied by the giver before them.
	listings := []model.SwapListing{
		swapListing(1, 10, 100, "Book A", "Book B"),
		swapListing(2, 20, 200, "Book B", "Book C"),
		swapListing(3, 30, 300, "Book C", "Book A"),
	}
	d, _, _, _ := newTestDetector(&fakeListingSource{listings: listings})

	cycles, err := d.FindCycles(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	ring := cycles[0].Nodes
	require.Len(t, ring, 3)
	for i := range ring {
		receiver := ring[(i+1)%len(ring)]
		satisfied := false
		for _, w := range receiver.Wants {
			if strings.Contains(strings.ToLower(ring[i].Book.Title), strings.ToLower(w)) {
				satisfied = true
				break
			}
		}
		assert.True(t, satisfied,
			"user %d should receive a book matching one of their wants", receiver.UserID)
	}
}

func TestFindCycles_CrossCountyRingCosts(t *testing.T) {
	// Three users in three counties with real coordinates. The Nairobi and
	// Kiambu sites are ~4.4 km apart (KES 50 leg); both legs touching the
	// Nakuru site exceed 50 km (KES 300 each).
	a := swapListing(1, 10, 100, "Book A", "Book B")
	a.Location = model.Location{County: "Nairobi", Coords: &model.GeoPoint{Lat: -1.2921, Lon: 36.8219}}
	b := swapListing(2, 20, 200, "Book B", "Book C")
	b.Location = model.Location{County: "Kiambu", Coords: &model.GeoPoint{Lat: -1.2521, Lon: 36.8219}}
	c := swapListing(3, 30, 300, "Book C", "Book A")
	c.Location = model.Location{County: "Nakuru", Coords: &model.GeoPoint{Lat: -0.3031, Lon: 36.0800}}

	d, _, _, _ := newTestDetector(&fakeListingSource{listings: []model.SwapListing{a, b, c}})

	cycles, err := d.FindCycles(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	got := cycles[0]
	require.Len(t, got.Nodes, 3)
	assert.False(t, got.IsSameCounty)
	assert.True(t, got.TotalCost.Equal(decimal.NewFromInt(650)),
		"total cost = %s, want 650 (50 + 300 + 300)", got.TotalCost)
	assert.InDelta(t, 650.0/3.0, got.AvgCost.InexactFloat64(), 0.01)
	assert.Greater(t, got.MaxDistanceKm, 50.0)
}

func TestFindCycles_DistinctUsersPerCycle(t *testing.T) {
	d, _, _, _ := newTestDetector(&fakeListingSource{listings: pairListings()})

	cycles, err := d.FindCycles(context.Background(), 5)
	require.NoError(t, err)

	for _, c := range cycles {
		seen := make(map[int64]bool)
		for _, n := range c.Nodes {
			assert.False(t, seen[n.UserID], "user %d appears twice in one cycle", n.UserID)
			seen[n.UserID] = true
		}
	}
}

func TestFindCycles_MaxSizeBound(t *testing.T) {
	// Only a 3-ring exists; capping the search at 2 must find nothing.
	listings := []model.SwapListing{
		swapListing(1, 10, 100, "Book A", "Book B"),
		swapListing(2, 20, 200, "Book B", "Book C"),
		swapListing(3, 30, 300, "Book C", "Book A"),
	}
	d, _, _, _ := newTestDetector(&fakeListingSource{listings: listings})

	cycles, err := d.FindCycles(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestFindCycles_DeterministicAcrossRuns(t *testing.T) {
	listings := append(pairListings(),
		swapListing(3, 30, 300, "Book C", "Book D"),
		swapListing(4, 40, 400, "Book D", "Book C"),
	)
	d, _, _, _ := newTestDetector(&fakeListingSource{listings: listings})

	first, err := d.FindCycles(context.Background(), 5)
	require.NoError(t, err)
	second, err := d.FindCycles(context.Background(), 5)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, cycleKey(first[i]), cycleKey(second[i]))
	}
}

func TestDedupCycles_KeepsFirstPerUserSet(t *testing.T) {
	n1 := &model.ListingNode{UserID: 10, Book: model.Book{ListingID: 1}}
	n2 := &model.ListingNode{UserID: 20, Book: model.Book{ListingID: 2}}

	high := &model.DetectedCycle{Nodes: []*model.ListingNode{n1, n2}, PriorityScore: 90}
	low := &model.DetectedCycle{Nodes: []*model.ListingNode{n2, n1}, PriorityScore: 40}

	out := dedupCycles([]*model.DetectedCycle{high, low})
	require.Len(t, out, 1)
	assert.Equal(t, 90.0, out[0].PriorityScore)
}

func TestDetectAndSave_PersistsCycleWithParticipants(t *testing.T) {
	d, cycles, _, notifications := newTestDetector(&fakeListingSource{listings: pairListings()})
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	saved, err := d.DetectAndSave(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Equal(t, 1, saved)

	cycle, err := cycles.GetCycle(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "2-way", cycle.CycleType)
	assert.Equal(t, model.CyclePendingConfirmation, cycle.Status)
	assert.Equal(t, 2, cycle.TotalParticipants)
	assert.Equal(t, base.Add(48*time.Hour), cycle.ConfirmationDeadline)
	assert.Equal(t, base.Add(168*time.Hour), cycle.CompletionDeadline)
	assert.NotZero(t, cycle.DropPointID)

	participants, err := cycles.ListParticipants(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	for i, p := range participants {
		next := participants[(i+1)%2]
		assert.Equal(t, next.BookToReceiveID, p.BookToGiveID,
			"position %d must give the book position %d receives", i, (i+1)%2)
		assert.NotEmpty(t, p.CollectionQR)
		assert.Equal(t, model.ParticipantPending, p.Status)
	}

	assert.Len(t, notifications.forUser(10), 1)
	assert.Len(t, notifications.forUser(20), 1)
}

func TestDetectAndSave_TopNTruncates(t *testing.T) {
	listings := append(pairListings(),
		swapListing(3, 30, 300, "Book C", "Book D"),
		swapListing(4, 40, 400, "Book D", "Book C"),
	)
	d, cycles, _, _ := newTestDetector(&fakeListingSource{listings: listings})

	saved, err := d.DetectAndSave(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Len(t, cycles.cycles, 1)
}
