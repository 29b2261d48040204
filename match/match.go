// Package match runs compiled patterns over extracted page content.
package match

import (
	"fmt"

	"github.com/dlclark/regexp2"

	"github.com/pevans/asinscan/extract"
)

// Source says where in the page an occurrence was found.
type Source string

const (
	SourceTitle  Source = "title"
	SourceText   Source = "text"
	SourceMarkup Source = "markup"
	SourceHref   Source = "href"
)

// Occurrence is one non-overlapping match inside one source.
type Occurrence struct {
	Text   string
	Group  *string // first capture group; nil without groups or when it did not participate
	Source Source
	Href   string // the href searched, for SourceHref only
}

// FindMatches searches title, joined text, markup and then every href, and
// reports every occurrence in every source. Nothing is deduplicated. An error
// means a match call timed out; the occurrences found before it are returned.
func FindMatches(re *regexp2.Regexp, content *extract.Content) ([]Occurrence, error) {
	var occurrences []Occurrence
	var err error

	// An empty title is skipped rather than searched
	if content.Title != "" {
		if occurrences, err = appendAll(occurrences, re, content.Title, SourceTitle, ""); err != nil {
			return occurrences, err
		}
	}
	if occurrences, err = appendAll(occurrences, re, content.Text, SourceText, ""); err != nil {
		return occurrences, err
	}
	if occurrences, err = appendAll(occurrences, re, content.Markup, SourceMarkup, ""); err != nil {
		return occurrences, err
	}
	for _, href := range content.Hrefs {
		if occurrences, err = appendAll(occurrences, re, href, SourceHref, href); err != nil {
			return occurrences, err
		}
	}

	return occurrences, nil
}

// appendAll appends every leftmost, non-overlapping match of re in s. After
// an empty match the search resumes one character further on.
func appendAll(dst []Occurrence, re *regexp2.Regexp, s string, source Source, href string) ([]Occurrence, error) {
	m, err := re.FindStringMatch(s)
	for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
		occ := Occurrence{
			Text:   m.String(),
			Source: source,
			Href:   href,
		}
		if g := m.GroupByNumber(1); g != nil && len(g.Captures) > 0 {
			group := g.String()
			occ.Group = &group
		}
		dst = append(dst, occ)
	}
	if err != nil {
		return dst, fmt.Errorf("failed to search %s: %w", source, err)
	}

	return dst, nil
}

// CountBySource tallies occurrences per source.
func CountBySource(occurrences []Occurrence) map[Source]int {
	counts := make(map[Source]int, 4)
	for _, occ := range occurrences {
		counts[occ.Source]++
	}
	return counts
}
