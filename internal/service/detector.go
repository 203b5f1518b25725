package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kitabu/swapcycle/internal/model"
	"github.com/kitabu/swapcycle/pkg/geo"
)

// ─── Scoring weights ────────────────────────────────────────

// Priority-score weights. They sum to 1.0; every term is on a 0–100 scale
// except the cost term, which is inverted so cheaper cycles score higher.
const (
	weightGeographic  = 0.35
	weightReliability = 0.25
	weightCost        = 0.20
	weightProximity   = 0.15
	weightSameCounty  = 0.05
)

// Proximity bonus tiers over the cycle's max inter-participant distance.
const (
	proximityTight  = 100 // max distance < 10 km
	proximityMedium = 50  // max distance < 50 km
	proximityLoose  = 20  // everything else, including unmeasurable
)

// DefaultReliabilityScore is assumed for users with no recorded history.
const DefaultReliabilityScore = 50.0

// ─── Detector ───────────────────────────────────────────────

// Detector enumerates, scores, deduplicates, and persists swap cycles.
//
// Algorithm overview:
//
//  1. BUILD: rebuild the swap graph from current active listings.
//  2. SEARCH: depth-first search from each unconsumed node, closing a cycle
//     when an edge returns to the start user with ≥2 nodes on the path.
//  3. SCORE: weight geography, participant reliability, logistics cost,
//     proximity, and county cohesion into one priority score.
//  4. DEDUP: canonicalize by sorted participant user ids, keeping the
//     highest-scoring instance.
//  5. SAVE: persist the top-N cycles with a resolved drop point each.
//
// The DFS is bounded: path length is capped at maxSize and no user repeats
// within a path, so it always terminates. No I/O happens inside the search —
// it runs purely over the in-memory graph.
type Detector struct {
	graphs        *GraphBuilder
	cycles        CycleStore
	reliability   ReliabilityStore
	dropPoints    *DropPointSelector
	notifications NotificationStore

	confirmWindow  time.Duration
	completeWindow time.Duration

	now func() time.Time
}

// NewDetector creates a cycle detector. confirmWindow and completeWindow set
// the confirmation and completion deadlines on persisted cycles.
func NewDetector(
	graphs *GraphBuilder,
	cycles CycleStore,
	reliability ReliabilityStore,
	dropPoints *DropPointSelector,
	notifications NotificationStore,
	confirmWindow, completeWindow time.Duration,
) *Detector {
	return &Detector{
		graphs:         graphs,
		cycles:         cycles,
		reliability:    reliability,
		dropPoints:     dropPoints,
		notifications:  notifications,
		confirmWindow:  confirmWindow,
		completeWindow: completeWindow,
		now:            time.Now,
	}
}

// FindCycles rebuilds the graph and returns all discovered cycles of size
// 2..maxSize, scored, sorted by priority descending, and deduplicated on the
// sorted participant-id set.
func (d *Detector) FindCycles(ctx context.Context, maxSize int) ([]*model.DetectedCycle, error) {
	graph, err := d.graphs.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect: build graph: %w", err)
	}

	scores, err := d.loadReliability(ctx, graph)
	if err != nil {
		return nil, fmt.Errorf("detect: load reliability: %w", err)
	}

	// Deterministic start order: map iteration is randomized, and the
	// consumed-set makes results order-dependent. Sorting keys keeps
	// repeated runs over an unchanged pool identical.
	keys := make([]string, 0, len(graph.Nodes))
	for k := range graph.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := &cycleWalker{
		graph:    graph,
		maxSize:  maxSize,
		consumed: make(map[string]bool),
	}

	for _, k := range keys {
		if w.consumed[k] {
			continue
		}
		start := graph.Nodes[k]
		w.search([]*model.ListingNode{start}, map[int64]bool{start.UserID: true})
	}

	cycles := make([]*model.DetectedCycle, 0, len(w.found))
	for _, ring := range w.found {
		cycles = append(cycles, d.scoreCycle(ring, scores))
	}

	sort.SliceStable(cycles, func(i, j int) bool {
		return cycles[i].PriorityScore > cycles[j].PriorityScore
	})

	deduped := dedupCycles(cycles)
	log.Printf("[detect] Found %d cycles (%d after dedup) over %d nodes",
		len(cycles), len(deduped), len(graph.Nodes))
	return deduped, nil
}

// DetectAndSave runs a full detection pass and persists the top-N cycles.
// Returns the number of cycles actually saved. A cycle that fails drop-point
// resolution or insertion is logged and skipped — one bad cycle never aborts
// the batch.
func (d *Detector) DetectAndSave(ctx context.Context, maxSize, topN int) (int, error) {
	cycles, err := d.FindCycles(ctx, maxSize)
	if err != nil {
		return 0, err
	}
	if len(cycles) > topN {
		cycles = cycles[:topN]
	}

	saved := 0
	for _, c := range cycles {
		if err := d.saveCycle(ctx, c); err != nil {
			log.Printf("[detect] Skipping cycle (%s): %v", cycleKey(c), err)
			continue
		}
		saved++
	}

	log.Printf("[detect] ✓ Saved %d of %d candidate cycles", saved, len(cycles))
	return saved, nil
}

// ─── DFS ────────────────────────────────────────────────────

// cycleWalker holds the search state. Path and inPath are owned by the
// recursion (push before recursing, pop after — the backtracking contract);
// consumed is global across start nodes so a node feeds at most one
// emitted cycle.
type cycleWalker struct {
	graph    *SwapGraph
	maxSize  int
	consumed map[string]bool
	found    [][]*model.ListingNode
}

func (w *cycleWalker) search(path []*model.ListingNode, inPath map[int64]bool) {
	last := path[len(path)-1]
	start := path[0]

	for _, nbr := range w.graph.Adjacency[last.Key()] {
		if nbr.UserID == start.UserID {
			// Closing edge. Cycles need at least two nodes, and none of
			// the path may already belong to an accepted cycle.
			if len(path) >= 2 && !w.anyConsumed(path) {
				w.accept(path)
			}
			continue
		}

		if inPath[nbr.UserID] || w.consumed[nbr.Key()] || len(path) >= w.maxSize {
			continue
		}

		// Push a copied path before recursing, pop the user set after.
		// Copying avoids append aliasing between sibling branches.
		longer := make([]*model.ListingNode, len(path)+1)
		copy(longer, path)
		longer[len(path)] = nbr

		inPath[nbr.UserID] = true
		w.search(longer, inPath)
		delete(inPath, nbr.UserID)
	}
}

func (w *cycleWalker) anyConsumed(path []*model.ListingNode) bool {
	for _, n := range path {
		if w.consumed[n.Key()] {
			return true
		}
	}
	return false
}

// accept records a closed path as a cycle and consumes its nodes. The ring
// is the reversed path: an edge A → B means B owns the book A wants, so
// books flow against the search direction.
func (w *cycleWalker) accept(path []*model.ListingNode) {
	ring := make([]*model.ListingNode, len(path))
	for i, n := range path {
		ring[len(path)-1-i] = n
		w.consumed[n.Key()] = true
	}
	w.found = append(w.found, ring)
}

// ─── Scoring ────────────────────────────────────────────────

func (d *Detector) loadReliability(ctx context.Context, graph *SwapGraph) (map[int64]float64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, n := range graph.Nodes {
		if !seen[n.UserID] {
			seen[n.UserID] = true
			ids = append(ids, n.UserID)
		}
	}
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	return d.reliability.GetScores(ctx, ids)
}

// scoreCycle computes every aggregate and the weighted priority score for a
// ring of nodes where ring[i] gives its book to ring[(i+1) mod n].
func (d *Detector) scoreCycle(ring []*model.ListingNode, scores map[int64]float64) *model.DetectedCycle {
	n := len(ring)
	sites := make([]model.SchoolSite, n)
	for i, node := range ring {
		sites[i] = model.SchoolSite{SchoolID: node.SchoolID, SchoolName: node.SchoolName, Location: node.Location}
	}

	total := decimal.Zero
	for i := range ring {
		next := ring[(i+1)%n]
		total = total.Add(geo.LogisticsCostKES(ring[i].Location, next.Location, ring[i].SchoolID, next.SchoolID))
	}
	avgCost := total.Div(decimal.NewFromInt(int64(n)))

	relTotal := 0.0
	for _, node := range ring {
		s, ok := scores[node.UserID]
		if !ok {
			s = DefaultReliabilityScore
		}
		relTotal += s
	}
	avgReliability := relTotal / float64(n)

	geoScore := geo.GeographicScore(sites)
	maxDist := geo.MaxPairwiseDistanceKm(sites)
	avgDist := geo.AvgAdjacentDistanceKm(sites)
	sameCounty := geo.AllSameCounty(sites)

	proximity := proximityLoose
	switch {
	case maxDist >= 0 && maxDist < 10:
		proximity = proximityTight
	case maxDist >= 0 && maxDist < 50:
		proximity = proximityMedium
	}

	countyBonus := 50.0
	if sameCounty {
		countyBonus = 100.0
	}

	priority := weightGeographic*geoScore +
		weightReliability*avgReliability +
		weightCost*(100-avgCost.InexactFloat64()) +
		weightProximity*float64(proximity) +
		weightSameCounty*countyBonus

	return &model.DetectedCycle{
		Nodes:           ring,
		PriorityScore:   priority,
		GeographicScore: geoScore,
		TotalCost:       total,
		AvgCost:         avgCost,
		IsSameCounty:    sameCounty,
		IsSameZone:      geo.AllSameZone(sites),
		MaxDistanceKm:   maxDist,
		AvgDistanceKm:   avgDist,
		PrimaryCounty:   geo.PrimaryCounty(sites),
		AvgReliability:  avgReliability,
	}
}

// dedupCycles keeps one cycle per participant set. Input must already be
// sorted by priority descending, so the first instance seen is the winner.
func dedupCycles(cycles []*model.DetectedCycle) []*model.DetectedCycle {
	seen := make(map[string]bool, len(cycles))
	out := make([]*model.DetectedCycle, 0, len(cycles))
	for _, c := range cycles {
		key := cycleKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// cycleKey canonicalizes a cycle as its sorted participant user ids.
func cycleKey(c *model.DetectedCycle) string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = strconv.FormatInt(n.UserID, 10)
	}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}

// ─── Persistence ────────────────────────────────────────────

// saveCycle resolves a drop point and writes the cycle plus its participant
// ring in one transaction, then notifies every participant.
func (d *Detector) saveCycle(ctx context.Context, c *model.DetectedCycle) error {
	n := len(c.Nodes)
	sites := make([]model.SchoolSite, n)
	for i, node := range c.Nodes {
		sites[i] = model.SchoolSite{SchoolID: node.SchoolID, SchoolName: node.SchoolName, Location: node.Location}
	}

	dp, err := d.dropPoints.Select(ctx, sites)
	if err != nil {
		return fmt.Errorf("resolve drop point: %w", err)
	}

	now := d.now()
	cycle := &model.SwapCycle{
		CycleType:             fmt.Sprintf("%d-way", n),
		Status:                model.CyclePendingConfirmation,
		PriorityScore:         c.PriorityScore,
		PrimaryCounty:         c.PrimaryCounty,
		IsSameCounty:          c.IsSameCounty,
		IsSameZone:            c.IsSameZone,
		TotalLogisticsCost:    c.TotalCost,
		AvgCostPerParticipant: c.AvgCost,
		MaxDistanceKm:         c.MaxDistanceKm,
		AvgDistanceKm:         c.AvgDistanceKm,
		ConfirmationDeadline:  now.Add(d.confirmWindow),
		CompletionDeadline:    now.Add(d.completeWindow),
		TotalParticipants:     n,
		DropPointID:           dp.ID,
	}

	participants := make([]*model.CycleParticipant, n)
	for i, node := range c.Nodes {
		prev := c.Nodes[(i-1+n)%n]
		next := c.Nodes[(i+1)%n]
		participants[i] = &model.CycleParticipant{
			UserID:          node.UserID,
			Position:        i,
			BookToGiveID:    node.Book.ListingID,
			BookToReceiveID: prev.Book.ListingID,
			SchoolID:        node.SchoolID,
			SchoolName:      node.SchoolName,
			Location:        node.Location,
			LogisticsCost:   geo.LogisticsCostKES(node.Location, next.Location, node.SchoolID, next.SchoolID),
			CollectionQR:    uuid.NewString(),
			Status:          model.ParticipantPending,
		}
	}

	if err := d.cycles.CreateCycle(ctx, cycle, participants); err != nil {
		return fmt.Errorf("persist cycle: %w", err)
	}

	for _, p := range participants {
		d.notify(ctx, p.UserID,
			"Swap cycle found!",
			fmt.Sprintf("You've been matched into a %s book swap at %s. Confirm before %s to join.",
				cycle.CycleType, dp.Name, cycle.ConfirmationDeadline.Format(time.RFC1123)),
			fmt.Sprintf("/cycles/%d", cycle.ID))
	}

	return nil
}

func (d *Detector) notify(ctx context.Context, userID int64, title, message, actionURL string) {
	err := d.notifications.Create(ctx, &model.Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		ActionURL: actionURL,
	})
	if err != nil {
		log.Printf("[detect] notify user %d: %v", userID, err)
	}
}
