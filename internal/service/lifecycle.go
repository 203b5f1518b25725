package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kitabu/swapcycle/internal/model"
)

// ─── Lifecycle errors ───────────────────────────────────────

var (
	// ErrInvalidTransition is returned when an action is not legal in the
	// cycle's current status. The wrapped message carries the status so the
	// caller can tell the user what state the cycle is actually in.
	ErrInvalidTransition = errors.New("action not allowed in current cycle status")

	// ErrAlreadyConfirmed is returned on a repeat confirmation.
	ErrAlreadyConfirmed = errors.New("participation already confirmed")

	// ErrConfirmationExpired is returned when a confirm arrives after the
	// deadline; the cycle is force-timed-out as a side effect.
	ErrConfirmationExpired = errors.New("confirmation window has closed")

	// ErrAlreadyDropped is returned on a repeat drop-off.
	ErrAlreadyDropped = errors.New("book already dropped off")

	// ErrWrongQRToken is returned when the collection token does not match
	// the participant's issued QR code.
	ErrWrongQRToken = errors.New("collection QR token does not match")

	// ErrAlreadyCollected is returned on a repeat collection.
	ErrAlreadyCollected = errors.New("book already collected")
)

// ─── Lifecycle ──────────────────────────────────────────────

// Lifecycle drives persisted swap cycles through their state machine:
//
//	pending_confirmation → confirmed | cancelled | timeout
//	confirmed            → active | cancelled
//	active               → completed | cancelled
//
// and applies the reliability-score side effects of each outcome. Status
// transitions go through the store's conditional update, so a concurrent
// transition loses cleanly (ErrStaleStatus) instead of overwriting.
type Lifecycle struct {
	cycles        CycleStore
	reliability   ReliabilityStore
	notifications NotificationStore
	cache         CycleCache

	now func() time.Time
}

// NewLifecycle creates the state-machine service.
func NewLifecycle(cycles CycleStore, reliability ReliabilityStore, notifications NotificationStore, cache CycleCache) *Lifecycle {
	return &Lifecycle{
		cycles:        cycles,
		reliability:   reliability,
		notifications: notifications,
		cache:         cache,
		now:           time.Now,
	}
}

// Confirm records one participant's opt-in. Valid only while the cycle is
// pending_confirmation and inside the confirmation window; a late confirm
// force-times-out the cycle (same penalties as the sweep) and is rejected.
// The cycle flips to confirmed exactly when the last participant confirms.
func (l *Lifecycle) Confirm(ctx context.Context, cycleID, userID int64) error {
	cycle, err := l.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status != model.CyclePendingConfirmation {
		return statusError(cycle.Status)
	}

	now := l.now()
	if now.After(cycle.ConfirmationDeadline) {
		if err := l.timeoutCycle(ctx, cycle); err != nil {
			log.Printf("[lifecycle] force-timeout cycle #%d: %v", cycleID, err)
		}
		return ErrConfirmationExpired
	}

	p, err := l.cycles.GetParticipant(ctx, cycleID, userID)
	if err != nil {
		return err
	}
	if p.Confirmed {
		return ErrAlreadyConfirmed
	}

	if err := l.cycles.MarkConfirmed(ctx, p.ID, now); err != nil {
		return fmt.Errorf("confirm participant %d: %w", p.ID, err)
	}

	confirmed, total, err := l.cycles.IncrementConfirmedCount(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("increment confirmed count: %w", err)
	}

	log.Printf("[lifecycle] Cycle #%d: %d/%d confirmed", cycleID, confirmed, total)

	if confirmed == total {
		err := l.cycles.TransitionStatus(ctx, cycleID, model.CyclePendingConfirmation, model.CycleConfirmed)
		if err != nil && !errors.Is(err, ErrStaleStatus) {
			return fmt.Errorf("transition to confirmed: %w", err)
		}
		if err == nil {
			l.notifyAll(ctx, cycleID, "Swap cycle confirmed!",
				"Everyone is in. Drop your book at the drop point before the completion deadline.")
			log.Printf("[lifecycle] ✓ Cycle #%d fully confirmed", cycleID)
		}
	}

	l.cache.InvalidateCycleDetail(ctx, cycleID)
	return nil
}

// DropOff marks the participant's book as delivered to the drop point. Valid
// while the cycle is confirmed or active; the first drop-off advances the
// cycle from confirmed to active.
func (l *Lifecycle) DropOff(ctx context.Context, cycleID, userID int64, photoURL string) error {
	cycle, err := l.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status != model.CycleConfirmed && cycle.Status != model.CycleActive {
		return statusError(cycle.Status)
	}

	p, err := l.cycles.GetParticipant(ctx, cycleID, userID)
	if err != nil {
		return err
	}
	if p.BookDropped {
		return ErrAlreadyDropped
	}

	if err := l.cycles.MarkDroppedOff(ctx, p.ID, photoURL, l.now()); err != nil {
		return fmt.Errorf("mark dropped off: %w", err)
	}

	if cycle.Status == model.CycleConfirmed {
		err := l.cycles.TransitionStatus(ctx, cycleID, model.CycleConfirmed, model.CycleActive)
		if err != nil && !errors.Is(err, ErrStaleStatus) {
			return fmt.Errorf("transition to active: %w", err)
		}
	}

	log.Printf("[lifecycle] Cycle #%d: user %d dropped off", cycleID, userID)
	l.cache.InvalidateCycleDetail(ctx, cycleID)
	return nil
}

// Collect marks the participant's incoming book as picked up. The supplied
// token must match the participant's issued QR code. When the last
// participant collects, the cycle completes and everyone is rewarded.
func (l *Lifecycle) Collect(ctx context.Context, cycleID, userID int64, qrToken string) error {
	cycle, err := l.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status != model.CycleActive {
		return statusError(cycle.Status)
	}

	p, err := l.cycles.GetParticipant(ctx, cycleID, userID)
	if err != nil {
		return err
	}
	if p.CollectionQR != qrToken {
		return ErrWrongQRToken
	}
	if p.BookCollected {
		return ErrAlreadyCollected
	}

	if err := l.cycles.MarkCollected(ctx, p.ID, l.now()); err != nil {
		return fmt.Errorf("mark collected: %w", err)
	}

	collected, total, err := l.cycles.CountCollected(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("count collected: %w", err)
	}

	log.Printf("[lifecycle] Cycle #%d: %d/%d collected", cycleID, collected, total)

	if collected == total {
		if err := l.completeCycle(ctx, cycle); err != nil {
			return err
		}
	}

	l.cache.InvalidateCycleDetail(ctx, cycleID)
	return nil
}

// Cancel aborts a cycle from any non-terminal state and penalizes every
// participant.
func (l *Lifecycle) Cancel(ctx context.Context, cycleID int64, reason string) error {
	cycle, err := l.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status.Terminal() {
		return statusError(cycle.Status)
	}

	if err := l.cycles.TransitionStatus(ctx, cycleID, cycle.Status, model.CycleCancelled); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return statusError(cycle.Status)
		}
		return fmt.Errorf("transition to cancelled: %w", err)
	}

	participants, err := l.cycles.ListParticipants(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		l.applyOutcome(ctx, p.UserID, model.OutcomeCancelled)
		l.notify(ctx, p.UserID, "Swap cycle cancelled",
			fmt.Sprintf("Your swap cycle was cancelled: %s", reason),
			fmt.Sprintf("/cycles/%d", cycleID))
	}

	log.Printf("[lifecycle] ✗ Cycle #%d cancelled: %s", cycleID, reason)
	l.cache.InvalidateCycleDetail(ctx, cycleID)
	return nil
}

// ReportConditionMismatch lets a participant flag that the book they
// received is in worse condition than listed. The penalty lands on the giver
// of the reporter's received book — the previous position in the ring.
func (l *Lifecycle) ReportConditionMismatch(ctx context.Context, cycleID, reporterID int64, details string) error {
	cycle, err := l.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status != model.CycleActive && cycle.Status != model.CycleCompleted {
		return statusError(cycle.Status)
	}

	reporter, err := l.cycles.GetParticipant(ctx, cycleID, reporterID)
	if err != nil {
		return err
	}

	participants, err := l.cycles.ListParticipants(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	giverPos := (reporter.Position - 1 + cycle.TotalParticipants) % cycle.TotalParticipants
	for _, p := range participants {
		if p.Position != giverPos {
			continue
		}
		l.applyOutcome(ctx, p.UserID, model.OutcomeConditionMismatch)
		l.notify(ctx, p.UserID, "Book condition disputed",
			fmt.Sprintf("The recipient of your book reported a condition mismatch: %s", details),
			fmt.Sprintf("/cycles/%d", cycleID))
		log.Printf("[lifecycle] Cycle #%d: condition mismatch reported against user %d", cycleID, p.UserID)
		return nil
	}
	return ErrParticipantNotFound
}

// ─── Scheduled sweeps ───────────────────────────────────────

// SweepConfirmationTimeouts times out every pending cycle whose confirmation
// deadline has passed. Each cycle is handled independently; one failure
// never stops the sweep. Returns the number of cycles timed out.
func (l *Lifecycle) SweepConfirmationTimeouts(ctx context.Context) (int, error) {
	pending, err := l.cycles.ListPendingPastDeadline(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("sweep: list pending past deadline: %w", err)
	}

	timedOut := 0
	for i := range pending {
		if err := l.timeoutCycle(ctx, &pending[i]); err != nil {
			log.Printf("[sweep] timeout cycle #%d: %v", pending[i].ID, err)
			continue
		}
		timedOut++
	}

	if timedOut > 0 {
		log.Printf("[sweep] Timed out %d cycle(s)", timedOut)
	}
	return timedOut, nil
}

// SweepCompletionDeadlines handles active cycles past their completion
// deadline: fully-collected ones are force-completed, the rest get reminder
// notifications for participants who have not collected. No penalty here —
// the confirm-timeout path already charged the no-shows.
func (l *Lifecycle) SweepCompletionDeadlines(ctx context.Context) (int, error) {
	overdue, err := l.cycles.ListActivePastDeadline(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("sweep: list active past deadline: %w", err)
	}

	completed := 0
	for i := range overdue {
		cycle := &overdue[i]
		collected, total, err := l.cycles.CountCollected(ctx, cycle.ID)
		if err != nil {
			log.Printf("[sweep] count collected for cycle #%d: %v", cycle.ID, err)
			continue
		}

		if collected == total {
			if err := l.completeCycle(ctx, cycle); err != nil {
				log.Printf("[sweep] complete cycle #%d: %v", cycle.ID, err)
				continue
			}
			l.cache.InvalidateCycleDetail(ctx, cycle.ID)
			completed++
			continue
		}

		participants, err := l.cycles.ListParticipants(ctx, cycle.ID)
		if err != nil {
			log.Printf("[sweep] list participants for cycle #%d: %v", cycle.ID, err)
			continue
		}
		for _, p := range participants {
			if p.BookCollected {
				continue
			}
			l.notify(ctx, p.UserID, "Swap deadline passed",
				"Your swap cycle is past its completion deadline. Collect your book from the drop point.",
				fmt.Sprintf("/cycles/%d", cycle.ID))
		}
	}

	return completed, nil
}

// ─── Internal transitions ───────────────────────────────────

// timeoutCycle moves a pending cycle to timeout and penalizes every
// participant who had not confirmed. Shared by the sweep and the
// late-confirm path so both apply identical penalties.
func (l *Lifecycle) timeoutCycle(ctx context.Context, cycle *model.SwapCycle) error {
	err := l.cycles.TransitionStatus(ctx, cycle.ID, model.CyclePendingConfirmation, model.CycleTimeout)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil // someone beat us to it
		}
		return fmt.Errorf("transition to timeout: %w", err)
	}

	participants, err := l.cycles.ListParticipants(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if !p.Confirmed {
			l.applyOutcome(ctx, p.UserID, model.OutcomeTimeout)
		}
		l.notify(ctx, p.UserID, "Swap cycle timed out",
			"Not everyone confirmed in time, so the swap cycle was cancelled.",
			fmt.Sprintf("/cycles/%d", cycle.ID))
	}

	log.Printf("[lifecycle] ⏱ Cycle #%d timed out (%d participants)", cycle.ID, len(participants))
	l.cache.InvalidateCycleDetail(ctx, cycle.ID)
	return nil
}

// completeCycle moves an active cycle to completed and rewards everyone.
func (l *Lifecycle) completeCycle(ctx context.Context, cycle *model.SwapCycle) error {
	err := l.cycles.TransitionStatus(ctx, cycle.ID, model.CycleActive, model.CycleCompleted)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil
		}
		return fmt.Errorf("transition to completed: %w", err)
	}

	participants, err := l.cycles.ListParticipants(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		l.applyOutcome(ctx, p.UserID, model.OutcomeCompleted)
		l.notify(ctx, p.UserID, "Swap completed!",
			"All books were exchanged. Your reliability score went up.",
			fmt.Sprintf("/cycles/%d", cycle.ID))
	}

	log.Printf("[lifecycle] ✓ Cycle #%d completed", cycle.ID)
	return nil
}

// ─── Reliability side effects ───────────────────────────────

// applyOutcome adjusts one user's reliability record for an outcome. The
// record is lazily created at the 50.00 default; the score is clamped to
// [0, 100] on every update. Failures are logged, never propagated — a score
// hiccup must not fail the user-facing action.
func (l *Lifecycle) applyOutcome(ctx context.Context, userID int64, outcome model.SwapOutcome) {
	score, err := l.reliability.Get(ctx, userID)
	if err != nil {
		log.Printf("[lifecycle] reliability get user %d: %v", userID, err)
		return
	}

	score.Score = clampScore(score.Score + outcome.Delta())
	switch outcome {
	case model.OutcomeCompleted:
		score.CompletedCycles++
		score.CompletedSwaps++
	case model.OutcomeCancelled:
		score.CancelledSwaps++
		score.PenaltyPoints += 5
	case model.OutcomeTimeout:
		score.TimedOutSwaps++
		score.PenaltyPoints += 10
	case model.OutcomeConditionMismatch:
		score.PenaltyPoints += 3
	}
	score.Badges = evaluateBadges(score)

	if err := l.reliability.Save(ctx, score); err != nil {
		log.Printf("[lifecycle] reliability save user %d: %v", userID, err)
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// evaluateBadges recomputes the badge list from the record's counters.
func evaluateBadges(s *model.UserReliabilityScore) []string {
	var badges []string
	if s.CompletedSwaps >= 1 {
		badges = append(badges, "first_swap")
	}
	if s.Score >= 80 && s.CompletedCycles >= 5 {
		badges = append(badges, "trusted_swapper")
	}
	if s.Score >= 95 && s.CompletedCycles >= 15 {
		badges = append(badges, "super_swapper")
	}
	return badges
}

// ─── Helpers ────────────────────────────────────────────────

func statusError(status model.CycleStatus) error {
	return fmt.Errorf("%w (cycle is %s)", ErrInvalidTransition, status)
}

func (l *Lifecycle) notify(ctx context.Context, userID int64, title, message, actionURL string) {
	err := l.notifications.Create(ctx, &model.Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		ActionURL: actionURL,
	})
	if err != nil {
		log.Printf("[lifecycle] notify user %d: %v", userID, err)
	}
}

func (l *Lifecycle) notifyAll(ctx context.Context, cycleID int64, title, message string) {
	participants, err := l.cycles.ListParticipants(ctx, cycleID)
	if err != nil {
		log.Printf("[lifecycle] notify all for cycle #%d: %v", cycleID, err)
		return
	}
	for _, p := range participants {
		l.notify(ctx, p.UserID, title, message, fmt.Sprintf("/cycles/%d", cycleID))
	}
}
