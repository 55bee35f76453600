package grouping

import (
	"sort"

	"b2brecon/internal/domain"
	"b2brecon/internal/normalize"
)

// Group folds discovered URLs into one record per registrable root domain.
// Every input URL lands in exactly one record; unparsable URLs become their
// own pseudo-domain. Output is ordered by domain.
func Group(urls []domain.URLEntry) []domain.DomainRecord {
	index := make(map[string]int, len(urls))
	var out []domain.DomainRecord
	for _, u := range urls {
		root := normalize.ExtractRootDomain(u.URL)
		i, ok := index[root]
		if !ok {
			i = len(out)
			index[root] = i
			out = append(out, domain.DomainRecord{Domain: root, RegistryStatus: domain.StatusUnclassified})
		}
		out[i].URLs = append(out[i].URLs, u)
	}
	for i := range out {
		out[i].Sources = tagSources(out[i].URLs)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Attributor determines which engines contributed a domain. The run's
// per-engine log wins; the per-URL tag is used only for URLs absent from
// every log.
type Attributor struct {
	logged map[domain.Source]map[string]struct{}
}

func NewAttributor(log domain.RunSourceLog) *Attributor {
	a := &Attributor{logged: make(map[domain.Source]map[string]struct{}, len(log.LastLinks))}
	for engine, links := range log.LastLinks {
		set := make(map[string]struct{}, len(links))
		for _, l := range links {
			set[normalize.URL(l)] = struct{}{}
		}
		a.logged[engine] = set
	}
	return a
}

// Attribute returns the sorted union of sources over the given URLs. An empty
// result means the source is unknown.
func (a *Attributor) Attribute(urls []domain.URLEntry) []domain.Source {
	seen := map[domain.Source]bool{}
	for _, u := range urls {
		for _, s := range a.urlSources(u) {
			seen[s] = true
		}
	}
	return ordered(seen)
}

func (a *Attributor) urlSources(u domain.URLEntry) []domain.Source {
	key := normalize.URL(u.URL)
	var out []domain.Source
	for _, engine := range domain.Engines {
		if _, ok := a.logged[engine][key]; ok {
			out = append(out, engine)
		}
	}
	if len(out) > 0 {
		return out
	}
	return expandTag(u.Source)
}

// Attribute is the one-shot form of Attributor.Attribute.
func Attribute(urls []domain.URLEntry, log domain.RunSourceLog) []domain.Source {
	return NewAttributor(log).Attribute(urls)
}

func expandTag(s domain.Source) []domain.Source {
	switch s {
	case domain.SourceBoth:
		return []domain.Source{domain.SourceGoogle, domain.SourceYandex}
	case domain.SourceGoogle, domain.SourceYandex:
		return []domain.Source{s}
	}
	return nil
}

func tagSources(urls []domain.URLEntry) []domain.Source {
	seen := map[domain.Source]bool{}
	for _, u := range urls {
		for _, s := range expandTag(u.Source) {
			seen[s] = true
		}
	}
	return ordered(seen)
}

func ordered(seen map[domain.Source]bool) []domain.Source {
	var out []domain.Source
	for _, engine := range domain.Engines {
		if seen[engine] {
			out = append(out, engine)
		}
	}
	return out
}
