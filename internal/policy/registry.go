package policy

import (
	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// MatchList holds one compiled matcher per configured site, in config order.
// The index of a matcher is the index of its site.
type MatchList struct {
	sites    []domain.Site
	matchers []Matcher
}

// NewMatchList compiles the given sites.
func NewMatchList(sites []domain.Site) *MatchList {
	ml := &MatchList{
		sites:    append([]domain.Site(nil), sites...),
		matchers: make([]Matcher, len(sites)),
	}
	for i, s := range sites {
		ml.matchers[i] = Compile(Pattern(s.Filter))
	}
	return ml
}

// MatchListGenerator returns the wildcard patterns for the given filters.
func MatchListGenerator(filters []string) []string {
	patterns := make([]string, len(filters))
	for i, f := range filters {
		patterns[i] = Pattern(f)
	}
	return patterns
}

// FirstMatch returns the index of the first matcher covering rawURL.
func (ml *MatchList) FirstMatch(rawURL string) (int, bool) {
	if ml == nil {
		return -1, false
	}
	for i, m := range ml.matchers {
		if m.Match(rawURL) {
			return i, true
		}
	}
	return -1, false
}

// Site returns the site at idx.
func (ml *MatchList) Site(idx int) domain.Site {
	return ml.sites[idx]
}

// PatternAt returns the site pattern at idx.
func (ml *MatchList) PatternAt(idx int) string {
	return ml.matchers[idx].String()
}

// Patterns returns every site pattern in config order.
func (ml *MatchList) Patterns() []string {
	if ml == nil {
		return nil
	}
	patterns := make([]string, len(ml.matchers))
	for i, m := range ml.matchers {
		patterns[i] = m.String()
	}
	return patterns
}

// Len returns the number of compiled matchers.
func (ml *MatchList) Len() int {
	if ml == nil {
		return 0
	}
	return len(ml.matchers)
}
