package query

import (
	"sort"
	"strings"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/errors"
)

// JoinPolicy decides what happens when several shortest join paths exist
type JoinPolicy string

const (
	// JoinShortest picks the lexicographically smallest shortest path
	JoinShortest JoinPolicy = "shortest"
	// JoinRejectAmbiguous fails with NoJoinPath when shortest paths tie
	JoinRejectAmbiguous JoinPolicy = "reject_ambiguous"
)

// maxEnumeratedPaths bounds shortest-path enumeration on dense graphs
const maxEnumeratedPaths = 32

type joinEdge struct {
	From       string
	FromColumn string
	To         string
	ToColumn   string
}

func (e joinEdge) key() string {
	return e.From + "." + e.FromColumn + ">" + e.To + "." + e.ToColumn
}

type joinPath []joinEdge

func (p joinPath) key() string {
	parts := make([]string, len(p))
	for i, e := range p {
		parts[i] = e.key()
	}

	return strings.Join(parts, ",")
}

// joinGraph is the undirected relationship graph of a snapshot keyed by
// lowercase table names
type joinGraph map[string][]joinEdge

func newJoinGraph(snap *catalog.Snapshot) joinGraph {
	g := make(joinGraph)

	for _, t := range snap.Tables() {
		from := strings.ToLower(t.Name)
		for _, r := range t.Relationships {
			to := strings.ToLower(r.RefTable)
			g[from] = append(g[from], joinEdge{From: from, FromColumn: r.Column, To: to, ToColumn: r.RefColumn})
			g[to] = append(g[to], joinEdge{From: to, FromColumn: r.RefColumn, To: from, ToColumn: r.Column})
		}
	}

	for name := range g {
		edges := g[name]
		sort.Slice(edges, func(i, j int) bool { return edges[i].key() < edges[j].key() })
	}

	return g
}

// shortestPaths returns every shortest path from src to dst, sorted by key
func (g joinGraph) shortestPaths(src, dst string) []joinPath {
	dist := map[string]int{src: 0}
	preds := make(map[string][]joinEdge)
	queue := []string{src}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, e := range g[node] {
			d, seen := dist[e.To]
			switch {
			case !seen:
				dist[e.To] = dist[node] + 1
				preds[e.To] = append(preds[e.To], e)
				queue = append(queue, e.To)
			case d == dist[node]+1:
				preds[e.To] = append(preds[e.To], e)
			}
		}
	}

	if _, ok := dist[dst]; !ok {
		return nil
	}

	var paths []joinPath

	var walk func(node string, suffix joinPath)
	walk = func(node string, suffix joinPath) {
		if len(paths) >= maxEnumeratedPaths {
			return
		}

		if node == src {
			p := make(joinPath, len(suffix))
			copy(p, suffix)
			paths = append(paths, p)

			return
		}

		for _, e := range preds[node] {
			walk(e.From, append(joinPath{e}, suffix...))
		}
	}
	walk(dst, nil)

	sort.Slice(paths, func(i, j int) bool { return paths[i].key() < paths[j].key() })

	return paths
}

// resolveJoins plans the join edges connecting primary to every target, in
// order. Edges are deduplicated so a table joins at most once.
func resolveJoins(snap *catalog.Snapshot, primary string, targets []string, policy JoinPolicy) ([]joinEdge, error) {
	g := newJoinGraph(snap)
	joined := map[string]bool{primary: true}

	var edges []joinEdge

	for _, target := range targets {
		if joined[target] {
			continue
		}

		paths := g.shortestPaths(primary, target)
		if len(paths) == 0 {
			return nil, errors.Newf(errors.ErrTypeNoJoinPath,
				"no declared relationship path between %s and %s", primary, target)
		}

		if len(paths) > 1 && policy == JoinRejectAmbiguous {
			return nil, errors.Newf(errors.ErrTypeNoJoinPath,
				"ambiguous join between %s and %s: %d shortest paths", primary, target, len(paths)).
				WithSuggestion("Name the intermediate table in the question")
		}

		for _, e := range paths[0] {
			if joined[e.To] {
				continue
			}

			joined[e.To] = true
			edges = append(edges, e)
		}
	}

	return edges, nil
}
