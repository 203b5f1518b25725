package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kitabu/swapcycle/internal/model"
)

// In-memory implementations of the storage interfaces. They mimic the
// repository semantics the services rely on: conditional status updates,
// lazy reliability defaults, and (nil, nil) school lookups.

// ─── fakeListingSource ──────────────────────────────────────

type fakeListingSource struct {
	listings []model.SwapListing
	err      error
}

func (f *fakeListingSource) ActiveSwapListings(ctx context.Context) ([]model.SwapListing, error) {
	return f.listings, f.err
}

// ─── fakeCycleStore ─────────────────────────────────────────

type fakeCycleStore struct {
	cycles       map[int64]*model.SwapCycle
	participants map[int64][]*model.CycleParticipant // keyed by cycle id

	nextCycleID       int64
	nextParticipantID int64
}

func newFakeCycleStore() *fakeCycleStore {
	return &fakeCycleStore{
		cycles:       make(map[int64]*model.SwapCycle),
		participants: make(map[int64][]*model.CycleParticipant),
	}
}

func (f *fakeCycleStore) CreateCycle(ctx context.Context, cycle *model.SwapCycle, participants []*model.CycleParticipant) error {
	f.nextCycleID++
	cycle.ID = f.nextCycleID
	cycle.CreatedAt = time.Now()
	cycle.UpdatedAt = cycle.CreatedAt
	f.cycles[cycle.ID] = cycle

	for _, p := range participants {
		f.nextParticipantID++
		p.ID = f.nextParticipantID
		p.CycleID = cycle.ID
		f.participants[cycle.ID] = append(f.participants[cycle.ID], p)
	}
	return nil
}

func (f *fakeCycleStore) GetCycle(ctx context.Context, id int64) (*model.SwapCycle, error) {
	c, ok := f.cycles[id]
	if !ok {
		return nil, ErrCycleNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCycleStore) ListParticipants(ctx context.Context, cycleID int64) ([]model.CycleParticipant, error) {
	ps := f.participants[cycleID]
	out := make([]model.CycleParticipant, len(ps))
	for i, p := range ps {
		out[i] = *p
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeCycleStore) GetParticipant(ctx context.Context, cycleID, userID int64) (*model.CycleParticipant, error) {
	for _, p := range f.participants[cycleID] {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrParticipantNotFound
}

func (f *fakeCycleStore) TransitionStatus(ctx context.Context, cycleID int64, from, to model.CycleStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("transition cycle %d %s→%s: not a legal transition", cycleID, from, to)
	}
	c, ok := f.cycles[cycleID]
	if !ok || c.Status != from {
		return ErrStaleStatus
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCycleStore) MarkConfirmed(ctx context.Context, participantID int64, at time.Time) error {
	p := f.findParticipant(participantID)
	if p == nil {
		return ErrParticipantNotFound
	}
	p.Confirmed = true
	p.ConfirmedAt = &at
	p.Status = model.ParticipantConfirmed
	return nil
}

func (f *fakeCycleStore) IncrementConfirmedCount(ctx context.Context, cycleID int64) (int, int, error) {
	c, ok := f.cycles[cycleID]
	if !ok {
		return 0, 0, ErrCycleNotFound
	}
	c.ConfirmedParticipants++
	return c.ConfirmedParticipants, c.TotalParticipants, nil
}

func (f *fakeCycleStore) MarkDroppedOff(ctx context.Context, participantID int64, photoURL string, at time.Time) error {
	p := f.findParticipant(participantID)
	if p == nil {
		return ErrParticipantNotFound
	}
	p.BookDropped = true
	p.DroppedAt = &at
	p.DropPhotoURL = photoURL
	p.Status = model.ParticipantDropped
	return nil
}

func (f *fakeCycleStore) MarkCollected(ctx context.Context, participantID int64, at time.Time) error {
	p := f.findParticipant(participantID)
	if p == nil {
		return ErrParticipantNotFound
	}
	p.BookCollected = true
	p.CollectedAt = &at
	p.Status = model.ParticipantCollected
	return nil
}

func (f *fakeCycleStore) CountCollected(ctx context.Context, cycleID int64) (int, int, error) {
	collected := 0
	ps := f.participants[cycleID]
	for _, p := range ps {
		if p.BookCollected {
			collected++
		}
	}
	return collected, len(ps), nil
}

func (f *fakeCycleStore) ListPendingPastDeadline(ctx context.Context, now time.Time) ([]model.SwapCycle, error) {
	return f.listPastDeadline(model.CyclePendingConfirmation, now, func(c *model.SwapCycle) time.Time {
		return c.ConfirmationDeadline
	}), nil
}

func (f *fakeCycleStore) ListActivePastDeadline(ctx context.Context, now time.Time) ([]model.SwapCycle, error) {
	return f.listPastDeadline(model.CycleActive, now, func(c *model.SwapCycle) time.Time {
		return c.CompletionDeadline
	}), nil
}

func (f *fakeCycleStore) listPastDeadline(status model.CycleStatus, now time.Time, deadline func(*model.SwapCycle) time.Time) []model.SwapCycle {
	var out []model.SwapCycle
	for _, c := range f.cycles {
		if c.Status == status && now.After(deadline(c)) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeCycleStore) findParticipant(id int64) *model.CycleParticipant {
	for _, ps := range f.participants {
		for _, p := range ps {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}

// ─── fakeReliabilityStore ───────────────────────────────────

type fakeReliabilityStore struct {
	records map[int64]*model.UserReliabilityScore
}

func newFakeReliabilityStore() *fakeReliabilityStore {
	return &fakeReliabilityStore{records: make(map[int64]*model.UserReliabilityScore)}
}

func (f *fakeReliabilityStore) Get(ctx context.Context, userID int64) (*model.UserReliabilityScore, error) {
	if r, ok := f.records[userID]; ok {
		cp := *r
		return &cp, nil
	}
	return &model.UserReliabilityScore{UserID: userID, Score: DefaultReliabilityScore}, nil
}

func (f *fakeReliabilityStore) GetScores(ctx context.Context, userIDs []int64) (map[int64]float64, error) {
	scores := make(map[int64]float64, len(userIDs))
	for _, id := range userIDs {
		if r, ok := f.records[id]; ok {
			scores[id] = r.Score
		} else {
			scores[id] = DefaultReliabilityScore
		}
	}
	return scores, nil
}

func (f *fakeReliabilityStore) Save(ctx context.Context, score *model.UserReliabilityScore) error {
	cp := *score
	f.records[score.UserID] = &cp
	return nil
}

// ─── fakeDropPointStore ─────────────────────────────────────

type fakeDropPointStore struct {
	points []model.DropPoint
	nextID int64
}

func (f *fakeDropPointStore) FindActiveByCounty(ctx context.Context, county string) ([]model.DropPoint, error) {
	var out []model.DropPoint
	for _, p := range f.points {
		if p.Active && strings.EqualFold(p.County, county) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDropPointStore) FindBySchoolID(ctx context.Context, schoolID int64) (*model.DropPoint, error) {
	for i := range f.points {
		if f.points[i].SchoolID == schoolID {
			cp := f.points[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDropPointStore) Create(ctx context.Context, dp *model.DropPoint) error {
	f.nextID++
	dp.ID = f.nextID
	dp.CreatedAt = time.Now()
	f.points = append(f.points, *dp)
	return nil
}

// ─── fakeNotificationStore ──────────────────────────────────

type fakeNotificationStore struct {
	created []model.Notification
}

func (f *fakeNotificationStore) Create(ctx context.Context, n *model.Notification) error {
	f.created = append(f.created, *n)
	return nil
}

func (f *fakeNotificationStore) forUser(userID int64) []model.Notification {
	var out []model.Notification
	for _, n := range f.created {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// ─── fakeCycleCache ─────────────────────────────────────────

type fakeCycleCache struct {
	invalidated []int64
}

func (f *fakeCycleCache) InvalidateCycleDetail(ctx context.Context, cycleID int64) {
	f.invalidated = append(f.invalidated, cycleID)
}
