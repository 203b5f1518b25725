package service

import (
	"context"
	"log"
	"strings"

	"github.com/kitabu/swapcycle/internal/model"
)

// ─── Swap graph ─────────────────────────────────────────────

// SwapGraph is the in-memory directed graph the detector searches. An edge
// node A → node B means "B's offered book satisfies one of A's wants".
// Adjacency is keyed by ListingNode.Key() — the (userId, listingId) pair.
type SwapGraph struct {
	Nodes     map[string]*model.ListingNode
	Adjacency map[string][]*model.ListingNode
}

// EdgeCount returns the total number of directed edges, for logging.
func (g *SwapGraph) EdgeCount() int {
	n := 0
	for _, nbrs := range g.Adjacency {
		n += len(nbrs)
	}
	return n
}

// ─── GraphBuilder ───────────────────────────────────────────

// GraphBuilder turns the current pool of active swap listings into a
// SwapGraph. The build is a pure read: no side effects, rebuilt fully on
// every detection run.
type GraphBuilder struct {
	listings ListingSource
}

// NewGraphBuilder creates a graph builder over the given listing source.
func NewGraphBuilder(listings ListingSource) *GraphBuilder {
	return &GraphBuilder{listings: listings}
}

// Build loads active swap listings and computes the compatibility edges.
//
// A listing is discarded when it has no resolvable school or no parsed
// wanted titles. An edge A → B exists when B's offered title contains one of
// A's wants (case-insensitive), the two books pass BooksCompatible, and B's
// book grade fits A's owner's school level.
//
// Complexity: O(N²·W) over N listings and W wants per listing — fine for the
// pool sizes a county-level book swap sees.
func (b *GraphBuilder) Build(ctx context.Context) (*SwapGraph, error) {
	listings, err := b.listings.ActiveSwapListings(ctx)
	if err != nil {
		return nil, err
	}

	graph := &SwapGraph{
		Nodes:     make(map[string]*model.ListingNode, len(listings)),
		Adjacency: make(map[string][]*model.ListingNode, len(listings)),
	}

	var nodes []*model.ListingNode
	skipped := 0
	for _, l := range listings {
		if l.SchoolID == 0 {
			skipped++
			continue
		}
		wants := parseWantedTitles(l.WillingToSwapFor)
		if len(wants) == 0 {
			skipped++
			continue
		}
		node := &model.ListingNode{
			UserID:      l.UserID,
			UserName:    l.UserName,
			SchoolID:    l.SchoolID,
			SchoolName:  l.SchoolName,
			SchoolLevel: l.SchoolLevel,
			Location:    l.Location,
			Book: model.Book{
				ListingID: l.ListingID,
				Title:     l.Title,
				Author:    l.Author,
				Subject:   l.Subject,
				Grade:     l.Grade,
				Condition: l.Condition,
			},
			Wants: wants,
		}
		nodes = append(nodes, node)
		graph.Nodes[node.Key()] = node
	}

	for _, from := range nodes {
		for _, to := range nodes {
			if from.UserID == to.UserID {
				continue
			}
			if b.satisfies(from, to) {
				graph.Adjacency[from.Key()] = append(graph.Adjacency[from.Key()], to)
			}
		}
	}

	log.Printf("[graph] Built swap graph: %d nodes, %d edges (%d listings skipped)",
		len(graph.Nodes), graph.EdgeCount(), skipped)

	return graph, nil
}

// satisfies reports whether `to`'s offered book satisfies one of `from`'s
// wants and passes the compatibility gates.
func (b *GraphBuilder) satisfies(from, to *model.ListingNode) bool {
	offered := strings.ToLower(to.Book.Title)
	wanted := false
	for _, w := range from.Wants {
		if strings.Contains(offered, strings.ToLower(w)) {
			wanted = true
			break
		}
	}
	if !wanted {
		return false
	}

	if !BooksCompatible(
		from.Book.Grade, to.Book.Grade,
		from.Book.Subject, to.Book.Subject,
		from.Book.Condition, to.Book.Condition,
	) {
		return false
	}

	// Level check: the receiving student (from) must be able to use the
	// candidate's book.
	return BookLevelCompatible(to.Book.Grade, from.SchoolLevel)
}

// parseWantedTitles splits the listing's free-text "willing to swap for"
// field on commas, trimming whitespace and dropping empties.
func parseWantedTitles(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
