package journey

import (
	"sort"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

type pair struct{ source, target string }

type nodeStats struct {
	visits     int
	eventCount int
}

// Aggregator accumulates transitions across many URL sequences. The zero
// value is not usable; call NewAggregator.
type Aggregator struct {
	nodes map[string]*nodeStats
	links map[pair]int
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		nodes: map[string]*nodeStats{},
		links: map[pair]int{},
	}
}

// Add segments one task's URL sequence and folds it into the totals.
func (a *Aggregator) Add(urls []string) {
	for _, seg := range Segment(urls) {
		a.addSegment(seg)
	}
}

func (a *Aggregator) addSegment(seg []string) {
	for i, u := range seg {
		st, ok := a.nodes[u]
		if !ok {
			st = &nodeStats{}
			a.nodes[u] = st
		}
		st.eventCount++
		if i == 0 || seg[i-1] != u {
			st.visits++
		}
		if i > 0 && seg[i-1] != u {
			a.links[pair{seg[i-1], u}]++
		}
	}
}

// Graph emits nodes in lexicographic URL order and links ordered by
// (source, target) index so equal input always renders identically.
func (a *Aggregator) Graph() domain.SankeyGraph {
	urls := make([]string, 0, len(a.nodes))
	for u := range a.nodes {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	index := make(map[string]int, len(urls))
	g := domain.SankeyGraph{
		Nodes: make([]domain.SankeyNode, 0, len(urls)),
		Links: make([]domain.SankeyLink, 0, len(a.links)),
	}
	for i, u := range urls {
		index[u] = i
		st := a.nodes[u]
		g.Nodes = append(g.Nodes, domain.SankeyNode{URL: u, Visits: st.visits, EventCount: st.eventCount})
	}
	for p, n := range a.links {
		g.Links = append(g.Links, domain.SankeyLink{Source: index[p.source], Target: index[p.target], Count: n})
	}
	sort.Slice(g.Links, func(i, j int) bool {
		if g.Links[i].Source != g.Links[j].Source {
			return g.Links[i].Source < g.Links[j].Source
		}
		return g.Links[i].Target < g.Links[j].Target
	})
	return g
}

// BuildGraph aggregates the event sequences of the given results.
func BuildGraph(results []domain.TaskResult) domain.SankeyGraph {
	agg := NewAggregator()
	for i := range results {
		agg.Add(ExtractURLs(results[i].EventSequence))
	}
	return agg.Graph()
}

// BuildGraphFromURLs is BuildGraph over pre-extracted URL sequences.
func BuildGraphFromURLs(sequences [][]string) domain.SankeyGraph {
	agg := NewAggregator()
	for _, seq := range sequences {
		normalized := make([]string, 0, len(seq))
		for _, u := range seq {
			if u = normalizeURL(u); u != "" {
				normalized = append(normalized, u)
			}
		}
		agg.Add(normalized)
	}
	return agg.Graph()
}
