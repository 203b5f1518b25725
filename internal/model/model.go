// Package model contains domain models for the textbook swap-cycle system.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Enums ──────────────────────────────────────────────────

// CycleStatus is the lifecycle state of a persisted swap cycle.
type CycleStatus string

const (
	CyclePendingConfirmation CycleStatus = "pending_confirmation"
	CycleConfirmed           CycleStatus = "confirmed"
	CycleActive              CycleStatus = "active"
	CycleCompleted           CycleStatus = "completed"
	CycleCancelled           CycleStatus = "cancelled"
	CycleTimeout             CycleStatus = "timeout"
)

// Terminal reports whether the status has no outgoing transitions.
func (s CycleStatus) Terminal() bool {
	switch s {
	case CycleCompleted, CycleCancelled, CycleTimeout:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s → to is allowed by the
// cycle state machine. Every pair not listed here is rejected.
func (s CycleStatus) CanTransitionTo(to CycleStatus) bool {
	switch s {
	case CyclePendingConfirmation:
		return to == CycleConfirmed || to == CycleCancelled || to == CycleTimeout
	case CycleConfirmed:
		return to == CycleActive || to == CycleCancelled
	case CycleActive:
		return to == CycleCompleted || to == CycleCancelled
	case CycleCompleted, CycleCancelled, CycleTimeout:
		return false
	}
	return false
}

// ParticipantStatus tracks one participant's progress inside a cycle.
type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantConfirmed ParticipantStatus = "confirmed"
	ParticipantDropped   ParticipantStatus = "dropped_off"
	ParticipantCollected ParticipantStatus = "collected"
)

// SwapOutcome is the event class that drives a reliability-score update.
type SwapOutcome string

const (
	OutcomeCompleted         SwapOutcome = "completed"
	OutcomeCancelled         SwapOutcome = "cancelled"
	OutcomeTimeout           SwapOutcome = "timeout"
	OutcomeConditionMismatch SwapOutcome = "condition_mismatch"
)

// Delta returns the signed score adjustment for the outcome.
func (o SwapOutcome) Delta() float64 {
	switch o {
	case OutcomeCompleted:
		return 2
	case OutcomeCancelled:
		return -5
	case OutcomeTimeout:
		return -10
	case OutcomeConditionMismatch:
		return -3
	}
	return 0
}

// ─── Location ───────────────────────────────────────────────

// GeoPoint is a WGS-84 geographic point (EPSG:4326).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a place in the Kenyan administrative hierarchy, with optional
// coordinates. Missing coordinates are a valid state — distance and cost
// computations fall back to hierarchy comparison.
type Location struct {
	County    string    `json:"county"`
	District  string    `json:"district"`
	Zone      string    `json:"zone"`
	SubCounty string    `json:"sub_county"`
	Ward      string    `json:"ward"`
	Coords    *GeoPoint `json:"coords,omitempty"`
}

// SchoolSite pairs a school identity with its location; the unit the
// geography helpers and the drop-point selector operate on.
type SchoolSite struct {
	SchoolID   int64    `json:"school_id"`
	SchoolName string   `json:"school_name"`
	Location   Location `json:"location"`
}

// ─── Listings & graph DTOs ──────────────────────────────────

// Book is the offered-book snapshot attached to a swap listing.
type Book struct {
	ListingID int64  `json:"listing_id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Subject   string `json:"subject"`
	Grade     string `json:"grade"`
	Condition string `json:"condition"`
}

// SwapListing is one active "willing to swap" listing joined with its owner
// and the owner's school, as loaded by the graph builder.
type SwapListing struct {
	ListingID        int64    `json:"listing_id"`
	UserID           int64    `json:"user_id"`
	UserName         string   `json:"user_name"`
	SchoolID         int64    `json:"school_id"`
	SchoolName       string   `json:"school_name"`
	SchoolLevel      string   `json:"school_level"`
	Location         Location `json:"location"`
	Title            string   `json:"title"`
	Author           string   `json:"author"`
	Subject          string   `json:"subject"`
	Grade            string   `json:"grade"`
	Condition        string   `json:"condition"`
	WillingToSwapFor string   `json:"willing_to_swap_for"`
}

// ListingNode is a graph vertex: one user's single active swap listing,
// rebuilt fresh on every detection run and never persisted.
type ListingNode struct {
	UserID      int64
	UserName    string
	SchoolID    int64
	SchoolName  string
	SchoolLevel string
	Location    Location
	Book        Book
	Wants       []string
}

// Key uniquely identifies a node as (userId, listingId). Keying by the pair
// keeps multiple listings per user distinct, though in practice each user has
// at most one active swap listing.
func (n *ListingNode) Key() string {
	return nodeKey(n.UserID, n.Book.ListingID)
}

func nodeKey(userID, listingID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(listingID, 10)
}

// DetectedCycle is a candidate exchange ring found by the detector. Node i
// gives its book to node (i+1) mod n. In-memory only until persisted.
type DetectedCycle struct {
	Nodes           []*ListingNode
	PriorityScore   float64
	GeographicScore float64
	TotalCost       decimal.Decimal
	AvgCost         decimal.Decimal
	IsSameCounty    bool
	IsSameZone      bool
	MaxDistanceKm   float64
	AvgDistanceKm   float64
	PrimaryCounty   string
	AvgReliability  float64
}

// ─── Persistent models ──────────────────────────────────────

// SwapCycle maps to the `swap_cycles` table.
type SwapCycle struct {
	ID                    int64           `json:"id"`
	CycleType             string          `json:"cycle_type"` // e.g. "3-way"
	Status                CycleStatus     `json:"status"`
	PriorityScore         float64         `json:"priority_score"`
	PrimaryCounty         string          `json:"primary_county"`
	IsSameCounty          bool            `json:"is_same_county"`
	IsSameZone            bool            `json:"is_same_zone"`
	TotalLogisticsCost    decimal.Decimal `json:"total_logistics_cost"`
	AvgCostPerParticipant decimal.Decimal `json:"avg_cost_per_participant"`
	MaxDistanceKm         float64         `json:"max_distance_km"`
	AvgDistanceKm         float64         `json:"avg_distance_km"`
	ConfirmationDeadline  time.Time       `json:"confirmation_deadline"`
	CompletionDeadline    time.Time       `json:"completion_deadline"`
	TotalParticipants     int             `json:"total_participants"`
	ConfirmedParticipants int             `json:"confirmed_participants"`
	DropPointID           int64           `json:"drop_point_id"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// CycleParticipant maps to the `cycle_participants` table. One row per
// (cycle, user); created alongside its cycle and never deleted independently.
type CycleParticipant struct {
	ID              int64             `json:"id"`
	CycleID         int64             `json:"cycle_id"`
	UserID          int64             `json:"user_id"`
	Position        int               `json:"position"` // ring index, 0-based
	BookToGiveID    int64             `json:"book_to_give_id"`
	BookToReceiveID int64             `json:"book_to_receive_id"`
	SchoolID        int64             `json:"school_id"`
	SchoolName      string            `json:"school_name"`
	Location        Location          `json:"location"`
	LogisticsCost   decimal.Decimal   `json:"logistics_cost"`
	Confirmed       bool              `json:"confirmed"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	BookDropped     bool              `json:"book_dropped"`
	DroppedAt       *time.Time        `json:"dropped_at,omitempty"`
	DropPhotoURL    string            `json:"drop_photo_url,omitempty"`
	BookCollected   bool              `json:"book_collected"`
	CollectedAt     *time.Time        `json:"collected_at,omitempty"`
	CollectionQR    string            `json:"collection_qr"`
	Status          ParticipantStatus `json:"status"`
}

// DropPoint maps to the `drop_points` table: the single physical location
// chosen for a cycle's exchange.
type DropPoint struct {
	ID        int64     `json:"id"`
	SchoolID  int64     `json:"school_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	County    string    `json:"county"`
	Zone      string    `json:"zone"`
	Coords    GeoPoint  `json:"coords"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserReliabilityScore maps to the `user_reliability_scores` table.
// Score is always in [0, 100]; new users start at 50.00.
type UserReliabilityScore struct {
	UserID          int64     `json:"user_id"`
	Score           float64   `json:"score"`
	CompletedCycles int       `json:"completed_cycles"`
	CompletedSwaps  int       `json:"completed_swaps"`
	CancelledSwaps  int       `json:"cancelled_swaps"`
	TimedOutSwaps   int       `json:"timed_out_swaps"`
	PenaltyPoints   int       `json:"penalty_points"`
	Badges          []string  `json:"badges"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Notification is an opaque "create notification for user X" record; the
// core only decides content and target, never the delivery channel.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ActionURL string    `json:"action_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ─── Read model ─────────────────────────────────────────────

// CycleDetail is the denormalized read model served to the UI: a cycle plus
// its ordered participant ring with user/book joins.
type CycleDetail struct {
	Cycle        SwapCycle           `json:"cycle"`
	DropPoint    DropPoint           `json:"drop_point"`
	Participants []ParticipantDetail `json:"participants"`
}

// ParticipantDetail is one ring entry in CycleDetail.
type ParticipantDetail struct {
	CycleParticipant
	UserName         string `json:"user_name"`
	GiveBookTitle    string `json:"give_book_title"`
	ReceiveBookTitle string `json:"receive_book_title"`
}
