package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitabu/swapcycle/internal/model"
)

func swapListing(listingID, userID, schoolID int64, title, wants string) model.SwapListing {
	return model.SwapListing{
		ListingID:        listingID,
		UserID:           userID,
		UserName:         "user",
		SchoolID:         schoolID,
		SchoolName:       "school",
		SchoolLevel:      "Primary",
		Location:         model.Location{County: "Nairobi"},
		Title:            title,
		Subject:          "Math",
		Grade:            "Grade 5",
		Condition:        "good",
		WillingToSwapFor: wants,
	}
}

func TestGraphBuilder_EdgesFollowWants(t *testing.T) {
	src := &fakeListingSource{listings: []model.SwapListing{
		swapListing(1, 10, 100, "Primary Mathematics Grade 5", "Science Companion"),
		swapListing(2, 20, 200, "Science Companion Grade 5", "Primary Mathematics"),
	}}
	g, err := NewGraphBuilder(src).Build(context.Background())
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, 2, g.EdgeCount())

	// User 10 wants "Science Companion"; user 20 offers it.
	nbrs := g.Adjacency["10:1"]
	require.Len(t, nbrs, 1)
	assert.Equal(t, int64(20), nbrs[0].UserID)
}

func TestGraphBuilder_NoEdgeBetweenSameUser(t *testing.T) {
	src := &fakeListingSource{listings: []model.SwapListing{
		swapListing(1, 10, 100, "Atlas", "Dictionary"),
		swapListing(2, 10, 100, "Dictionary", "Atlas"),
	}}
	g, err := NewGraphBuilder(src).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraphBuilder_SkipsUnusableListings(t *testing.T) {
	noSchool := swapListing(1, 10, 0, "Atlas", "Dictionary")
	noWants := swapListing(2, 20, 200, "Dictionary", "  ,  ,")

	src := &fakeListingSource{listings: []model.SwapListing{
		noSchool, noWants,
		swapListing(3, 30, 300, "Science Companion", "Atlas"),
	}}
	g, err := NewGraphBuilder(src).Build(context.Background())
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 1)
	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraphBuilder_SubjectMismatchBlocksEdge(t *testing.T) {
	a := swapListing(1, 10, 100, "Primary Mathematics", "Science Companion")
	b := swapListing(2, 20, 200, "Science Companion", "Primary Mathematics")
	b.Subject = "Kiswahili"

	src := &fakeListingSource{listings: []model.SwapListing{a, b}}
	g, err := NewGraphBuilder(src).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraphBuilder_LevelGateBlocksEdge(t *testing.T) {
	// A secondary-level book cannot flow to a primary-school student.
	a := swapListing(1, 10, 100, "Primary Mathematics", "Physics Form 2")
	b := swapListing(2, 20, 200, "Physics Form 2", "whatever")
	a.Grade = "Grade 4" // within the grade window of Form 2, so only the level gate blocks
	b.Grade = "Form 2"
	a.Subject = ""
	b.Subject = ""

	src := &fakeListingSource{listings: []model.SwapListing{a, b}}
	g, err := NewGraphBuilder(src).Build(context.Background())
	require.NoError(t, err)

	assert.Empty(t, g.Adjacency["10:1"])
}

func TestParseWantedTitles(t *testing.T) {
	assert.Equal(t,
		[]string{"Atlas", "Primary Mathematics"},
		parseWantedTitles(" Atlas , Primary Mathematics ,, "))
	assert.Empty(t, parseWantedTitles("   "))
}
