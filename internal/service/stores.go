// Package service contains the core business logic for swap-cycle matching:
// graph construction, cycle detection and scoring, drop-point selection, and
// the cycle lifecycle state machine.
//
// Services talk to storage through the narrow interfaces below so the
// algorithms can be tested against in-memory fakes; the pgx implementations
// live in internal/repository.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/kitabu/swapcycle/internal/model"
)

// ─── Store errors ───────────────────────────────────────────

var (
	// ErrCycleNotFound is returned when a cycle id does not exist.
	ErrCycleNotFound = errors.New("swap cycle not found")

	// ErrParticipantNotFound is returned when the acting user is not a
	// participant of the cycle.
	ErrParticipantNotFound = errors.New("participant not found in cycle")

	// ErrStaleStatus is returned by conditional status updates when the
	// cycle's stored status no longer matches the expected one.
	ErrStaleStatus = errors.New("cycle status changed concurrently")
)

// ─── Storage interfaces ─────────────────────────────────────

// ListingSource loads the active swap listings the graph is built from.
type ListingSource interface {
	ActiveSwapListings(ctx context.Context) ([]model.SwapListing, error)
}

// CycleStore persists cycles and participants and applies the fine-grained
// mutations the state machine needs. TransitionStatus is conditional on the
// current status (UPDATE ... WHERE status = from) so a concurrent transition
// surfaces as ErrStaleStatus instead of a lost update.
type CycleStore interface {
	CreateCycle(ctx context.Context, cycle *model.SwapCycle, participants []*model.CycleParticipant) error
	GetCycle(ctx context.Context, id int64) (*model.SwapCycle, error)
	ListParticipants(ctx context.Context, cycleID int64) ([]model.CycleParticipant, error)
	GetParticipant(ctx context.Context, cycleID, userID int64) (*model.CycleParticipant, error)
	TransitionStatus(ctx context.Context, cycleID int64, from, to model.CycleStatus) error
	MarkConfirmed(ctx context.Context, participantID int64, at time.Time) error
	IncrementConfirmedCount(ctx context.Context, cycleID int64) (confirmed, total int, err error)
	MarkDroppedOff(ctx context.Context, participantID int64, photoURL string, at time.Time) error
	MarkCollected(ctx context.Context, participantID int64, at time.Time) error
	CountCollected(ctx context.Context, cycleID int64) (collected, total int, err error)
	ListPendingPastDeadline(ctx context.Context, now time.Time) ([]model.SwapCycle, error)
	ListActivePastDeadline(ctx context.Context, now time.Time) ([]model.SwapCycle, error)
}

// ReliabilityStore reads and writes per-user reliability records. Get applies
// the 50.00 default for users with no prior record; the row is only created
// on the first Save.
type ReliabilityStore interface {
	Get(ctx context.Context, userID int64) (*model.UserReliabilityScore, error)
	GetScores(ctx context.Context, userIDs []int64) (map[int64]float64, error)
	Save(ctx context.Context, score *model.UserReliabilityScore) error
}

// DropPointStore persists exchange drop points. FindBySchoolID returns
// (nil, nil) when no drop point exists for the school.
type DropPointStore interface {
	FindActiveByCounty(ctx context.Context, county string) ([]model.DropPoint, error)
	FindBySchoolID(ctx context.Context, schoolID int64) (*model.DropPoint, error)
	Create(ctx context.Context, dp *model.DropPoint) error
}

// NotificationStore records "notify user X" rows; delivery is someone
// else's problem.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// CycleCache invalidates the cached cycle-detail read model. Implemented by
// the redis-backed view repository; a no-op in tests.
type CycleCache interface {
	InvalidateCycleDetail(ctx context.Context, cycleID int64)
}
