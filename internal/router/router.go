// Package router matches an incoming request's host and path against the
// configured pools and returns the single best match, per spec.md §4.3.
// Grounded on fabian4-gateway-homebrew-go's internal/router/router.go
// (bucket-by-host, sort-by-prefix-length shape), simplified to the spec's
// exact semantics: plain prefix matching (not path-segment aware) with a
// lexicographic pool-name tiebreak when prefix lengths are equal.
package router

import (
	"sort"
	"strings"

	"github.com/mir00r/edge-proxy/internal/lb"
)

// foldHost lowercases an ASCII host string for case-insensitive comparison,
// per spec.md §4.2 ("exact, case-insensitive on ASCII").
func foldHost(host string) string {
	return strings.ToLower(host)
}

// entry is one routable pool, bucketed by the host it matches.
type entry struct {
	name       string
	pathPrefix string
	pool       *lb.Pool
}

// Table is an immutable, built-once routing table. It holds no mutable
// state, so it needs no locking: all pools it references manage their own
// concurrency.
type Table struct {
	byHost map[string][]entry
	any    []entry // pools with no Host criterion, i.e. match every host
}

// New builds a Table from the pools configured for the proxy. Each pool's
// Match.Host (possibly empty, meaning "any host") and Match.PathPrefix
// (possibly empty, meaning "/") are used as routing criteria.
func New(pools []*lb.Pool) *Table {
	t := &Table{byHost: make(map[string][]entry)}
	for _, p := range pools {
		e := entry{name: p.Name, pathPrefix: p.Match.PathPrefix, pool: p}
		if p.Match.Host == "" {
			t.any = append(t.any, e)
		} else {
			host := foldHost(p.Match.Host)
			t.byHost[host] = append(t.byHost[host], e)
		}
	}
	for _, bucket := range t.byHost {
		sortByPrefixThenName(bucket)
	}
	sortByPrefixThenName(t.any)
	return t
}

// sortByPrefixThenName orders entries by descending path-prefix length, then
// ascending pool name, matching spec.md §4.3's longest-prefix-wins rule with
// a deterministic tiebreak.
func sortByPrefixThenName(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		li, lj := len(entries[i].pathPrefix), len(entries[j].pathPrefix)
		if li != lj {
			return li > lj
		}
		return entries[i].name < entries[j].name
	})
}

// Match returns the best pool for host and path, and whether one was found.
// Host-specific pools are tried before host-agnostic ones; within each
// group, the longest matching path prefix wins, ties broken by pool name.
func (t *Table) Match(host, path string) (*lb.Pool, bool) {
	host = foldHost(stripPort(host))
	if bucket, ok := t.byHost[host]; ok {
		if p, ok := firstMatch(bucket, path); ok {
			return p, true
		}
	}
	return firstMatch(t.any, path)
}

func firstMatch(entries []entry, path string) (*lb.Pool, bool) {
	for _, e := range entries {
		prefix := e.pathPrefix
		if prefix == "" {
			prefix = "/"
		}
		if strings.HasPrefix(path, prefix) {
			return e.pool, true
		}
	}
	return nil, false
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
