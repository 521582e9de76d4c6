package metadata

import (
	"sort"
	"strings"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// DefaultSearchLimit caps Rank results.
const DefaultSearchLimit = 50

const (
	rankExact = iota
	rankPrefix
	rankSubstring
	rankIdentifier
)

// Rank searches every node below root. Exact name matches come first, then
// name prefixes, name substrings and finally id or share identifier
// substrings. Ties keep tree order.
func Rank(root *models.Node, query string, limit int) []*models.Node {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	type hit struct {
		node *models.Node
		rank int
		pos  int
	}
	var hits []hit
	pos := 0
	tree.Walk(root, func(n *models.Node) bool {
		pos++
		if n.IsRoot() {
			return true
		}
		if r, ok := rankOf(n, q); ok {
			hits = append(hits, hit{node: n, rank: r, pos: pos})
		}
		return true
	})

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].pos < hits[j].pos
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]*models.Node, len(hits))
	for i, h := range hits {
		c := *h.node
		c.Children = nil
		out[i] = &c
	}
	return out
}

func rankOf(n *models.Node, q string) (int, bool) {
	name := strings.ToLower(n.Name)
	switch {
	case name == q:
		return rankExact, true
	case strings.HasPrefix(name, q):
		return rankPrefix, true
	case strings.Contains(name, q):
		return rankSubstring, true
	case strings.Contains(strings.ToLower(n.ID), q):
		return rankIdentifier, true
	case n.IsFile() && strings.Contains(strings.ToLower(n.ShareIdentifier()), q):
		return rankIdentifier, true
	}
	return 0, false
}
