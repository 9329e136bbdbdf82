package players

import (
	"sort"
	"strings"
)

// Record is one connected player as reported by a single server.
// Two records are equal when both Name and ID match exactly.
type Record struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Set is an unordered collection of players seen in one poll of one server.
type Set map[Record]struct{}

func NewSet(records ...Record) Set {
	s := make(Set, len(records))
	for _, r := range records {
		s[r] = struct{}{}
	}
	return s
}

func (s Set) Add(r Record) { s[r] = struct{}{} }

func (s Set) Contains(r Record) bool {
	_, ok := s[r]
	return ok
}

func (s Set) Len() int { return len(s) }

// Diff returns the records in s that are not in prev.
func (s Set) Diff(prev Set) []Record {
	var out []Record
	for r := range s {
		if !prev.Contains(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

// Records returns the set contents sorted by name, then ID.
func (s Set) Records() []Record {
	out := make([]Record, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

// Clone returns a copy that shares nothing with s.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Name != rs[j].Name {
			return rs[i].Name < rs[j].Name
		}
		return rs[i].ID < rs[j].ID
	})
}

// Parse converts a ShowPlayers response into a Set.
//
// The first line is a column header and is dropped. Every other non-blank
// line must hold exactly three comma separated fields: name, an ignored
// middle column and the player identifier. Anything else is skipped.
func Parse(raw string) Set {
	set := Set{}
	if strings.TrimSpace(raw) == "" {
		return set
	}

	lines := strings.Split(raw, "\n")
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			continue
		}
		set.Add(Record{
			Name: strings.TrimSpace(fields[0]),
			ID:   strings.TrimSpace(fields[2]),
		})
	}
	return set
}
