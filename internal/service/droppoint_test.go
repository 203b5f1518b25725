package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitabu/swapcycle/internal/model"
)

func site(schoolID int64, name, county string, lat, lon float64) model.SchoolSite {
	return model.SchoolSite{
		SchoolID:   schoolID,
		SchoolName: name,
		Location: model.Location{
			County: county,
			Coords: &model.GeoPoint{Lat: lat, Lon: lon},
		},
	}
}

func siteNoCoords(schoolID int64, name, county string) model.SchoolSite {
	return model.SchoolSite{
		SchoolID:   schoolID,
		SchoolName: name,
		Location:   model.Location{County: county},
	}
}

func TestSelect_SameSchoolUsesThatSchool(t *testing.T) {
	store := &fakeDropPointStore{}
	sel := NewDropPointSelector(store)

	sites := []model.SchoolSite{
		site(100, "Moi Primary", "Nairobi", -1.29, 36.82),
		site(100, "Moi Primary", "Nairobi", -1.29, 36.82),
	}
	dp, err := sel.Select(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, int64(100), dp.SchoolID)
	assert.Equal(t, "Moi Primary", dp.Name)

	// Second resolution reuses the stored row instead of duplicating it.
	again, err := sel.Select(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, dp.ID, again.ID)
	assert.Len(t, store.points, 1)
}

func TestSelect_PicksClosestCountyDropPoint(t *testing.T) {
	store := &fakeDropPointStore{points: []model.DropPoint{
		{ID: 1, Name: "CBD Library", County: "Nairobi", Coords: model.GeoPoint{Lat: -1.2850, Lon: 36.8200}, Active: true},
		{ID: 2, Name: "Thika Stop", County: "Nairobi", Coords: model.GeoPoint{Lat: -1.0333, Lon: 37.0693}, Active: true},
	}}
	sel := NewDropPointSelector(store)

	// Both participants are in central Nairobi; the CBD point is closest.
	sites := []model.SchoolSite{
		site(100, "School A", "Nairobi", -1.2900, 36.8200),
		site(200, "School B", "Nairobi", -1.2800, 36.8100),
	}
	dp, err := sel.Select(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dp.ID)
}

func TestSelect_CountyPointWithoutParticipantCoords(t *testing.T) {
	store := &fakeDropPointStore{points: []model.DropPoint{
		{ID: 7, Name: "Nakuru Hub", County: "Nakuru", Coords: model.GeoPoint{Lat: -0.3031, Lon: 36.0800}, Active: true},
	}}
	sel := NewDropPointSelector(store)

	// Nobody has coordinates, but a stored point in the county still works.
	sites := []model.SchoolSite{
		siteNoCoords(100, "School A", "Nakuru"),
		siteNoCoords(200, "School B", "Nakuru"),
	}
	dp, err := sel.Select(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, int64(7), dp.ID)
}

func TestSelect_CentroidFallbackCreatesSchoolPoint(t *testing.T) {
	store := &fakeDropPointStore{}
	sel := NewDropPointSelector(store)

	// Different schools, different counties, no stored points. School B sits
	// between the other two, closest to the centroid.
	sites := []model.SchoolSite{
		site(100, "School A", "Nairobi", -1.00, 36.80),
		site(200, "School B", "Kiambu", -1.10, 36.80),
		site(300, "School C", "Machakos", -1.22, 36.80),
	}
	dp, err := sel.Select(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, int64(200), dp.SchoolID)
	assert.Len(t, store.points, 1)
}

func TestSelect_FailsWithoutCoordsOrStoredPoints(t *testing.T) {
	sel := NewDropPointSelector(&fakeDropPointStore{})

	sites := []model.SchoolSite{
		siteNoCoords(100, "School A", "Nairobi"),
		siteNoCoords(200, "School B", "Nairobi"),
	}
	_, err := sel.Select(context.Background(), sites)
	assert.ErrorIs(t, err, ErrNoDropPoint)

	_, err = sel.Select(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoDropPoint)
}
