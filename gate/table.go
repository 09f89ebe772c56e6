package gate

import (
	"sort"
	"strings"

	"github.com/jrsteele09/go-bff-server/internal/config"
)

// Table is the immutable proxied route table. Lookups pick the longest
// prefix that matches on a path segment boundary.
type Table struct {
	rules []config.RouteRule
}

// NewTable builds a lookup table from the configured rules
func NewTable(rules []config.RouteRule) *Table {
	sorted := make([]config.RouteRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].PathPrefix) > len(sorted[j].PathPrefix)
	})
	return &Table{rules: sorted}
}

// Match returns the rule serving path, or false when none does
func (t *Table) Match(path string) (config.RouteRule, bool) {
	for _, rule := range t.rules {
		if prefixMatches(rule.PathPrefix, path) {
			return rule, true
		}
	}
	return config.RouteRule{}, false
}

// Rules returns the rules in lookup order
func (t *Table) Rules() []config.RouteRule {
	rules := make([]config.RouteRule, len(t.rules))
	copy(rules, t.rules)
	return rules
}

// prefixMatches treats /api/orders as matching /api/orders and
// /api/orders/1 but not /api/orders-archive.
func prefixMatches(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// UnderPrefix reports whether path is at or below prefix
func UnderPrefix(prefix, path string) bool {
	return prefixMatches(prefix, path)
}
