// Package chartview derives the displayed chart from the fetched dataset
// and owns the bounded selection set for the pending vote.
package chartview

import (
	"sort"
	"strings"

	"github.com/deerzone/deerzone/internal/chart"
)

// Tab is one of the three mutually exclusive chart views.
type Tab int

const (
	TabAll Tab = iota
	TabNew
	TabCurrent
)

func (t Tab) String() string {
	switch t {
	case TabAll:
		return "all"
	case TabNew:
		return "new"
	case TabCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// Next cycles to the following tab.
func (t Tab) Next() Tab { return (t + 1) % 3 }

// Params are the view inputs besides the dataset itself. Derived, never
// persisted.
type Params struct {
	Tab    Tab
	Search string
}

// Derive computes the display list: tab filter, then search filter, then a
// stable case-insensitive sort by artist with title tie-break. Pure: the
// input slice is never mutated and identical inputs yield identical output.
func Derive(songs []chart.Song, p Params) []chart.Song {
	out := make([]chart.Song, 0, len(songs))
	for _, s := range songs {
		if !inTab(s, p.Tab) {
			continue
		}
		if !matchesSearch(s, p.Search) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai := strings.ToLower(out[i].Artist)
		aj := strings.ToLower(out[j].Artist)
		if ai != aj {
			return ai < aj
		}
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

func inTab(s chart.Song, tab Tab) bool {
	switch tab {
	case TabNew:
		return s.IsNew
	case TabCurrent:
		return s.Carryover()
	default:
		return true
	}
}

func matchesSearch(s chart.Song, search string) bool {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.Artist), q) ||
		strings.Contains(strings.ToLower(s.Title), q)
}
