package gdb

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// TableRef is a selected source table tagged with its parsed grid
// resolution and part/chunk index.
type TableRef struct {
	Name       string
	Resolution int
	Part       int
	// PartKind is "part" or "chunk"; empty when the name carries no index.
	PartKind string
	HasPart  bool
	// Tag overrides SourcePart when set; see DisambiguateParts.
	Tag string
}

// SourcePart is the provenance tag written with each record, e.g. "part3"
// for ZStatsTable_h3_res5_part003. Tables without a parsed index use their
// name so the tag stays unique per table.
func (t TableRef) SourcePart() string {
	if t.Tag != "" {
		return t.Tag
	}
	if !t.HasPart {
		return t.Name
	}
	kind := t.PartKind
	if kind == "" {
		kind = "part"
	}
	return kind + strconv.Itoa(t.Part)
}

// Matcher selects and tags table names.
type Matcher interface {
	Match(name string) (TableRef, bool)
}

// nameIndexRe recovers resolution and part/chunk from conventional names
// such as ZStatsAsTable_Out_h3_res7_chunk_12 or ZStatsTable_h3_res5_part003.
var nameIndexRe = regexp.MustCompile(`(?i)h3_res(\d+)_(part|chunk)_?(\d+)`)

// ParseName extracts resolution and part from a conventional table name.
func ParseName(name string) (TableRef, bool) {
	m := nameIndexRe.FindStringSubmatch(name)
	if m == nil {
		return TableRef{Name: name}, false
	}
	res, err1 := strconv.Atoi(m[1])
	part, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return TableRef{Name: name}, false
	}
	return TableRef{Name: name, Resolution: res, Part: part, PartKind: strings.ToLower(m[2]), HasPart: true}, true
}

// RegexMatcher matches names against a regular expression with two capture
// groups (resolution, part). Like a prefix match, the expression is anchored
// at the start of the name only.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("locate: compile %q: %w", pattern, err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("locate: pattern %q needs two capture groups (resolution, part)", pattern)
	}
	return &RegexMatcher{re: re}, nil
}

func (m *RegexMatcher) Match(name string) (TableRef, bool) {
	sub := m.re.FindStringSubmatch(name)
	if sub == nil {
		return TableRef{}, false
	}
	res, err := strconv.Atoi(sub[1])
	if err != nil {
		return TableRef{}, false
	}
	part, err := strconv.Atoi(sub[2])
	if err != nil {
		return TableRef{}, false
	}
	kind := "part"
	if parsed, ok := ParseName(name); ok {
		kind = parsed.PartKind
	}
	return TableRef{Name: name, Resolution: res, Part: part, PartKind: kind, HasPart: true}, true
}

// GlobMatcher matches names against a shell glob and pins every match to a
// fixed resolution.
type GlobMatcher struct {
	pattern    string
	resolution int
	fold       bool
	caser      cases.Caser
}

// NewGlobMatcher validates pattern. With foldCase the comparison ignores
// case, the way geodatabase wildcards behave.
func NewGlobMatcher(pattern string, resolution int, foldCase bool) (*GlobMatcher, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("locate: glob %q: %w", pattern, err)
	}
	g := &GlobMatcher{pattern: pattern, resolution: resolution, fold: foldCase}
	if foldCase {
		g.caser = cases.Fold()
		g.pattern = g.caser.String(pattern)
	}
	return g, nil
}

func (g *GlobMatcher) Match(name string) (TableRef, bool) {
	candidate := name
	if g.fold {
		candidate = g.caser.String(name)
	}
	if ok, _ := path.Match(g.pattern, candidate); !ok {
		return TableRef{}, false
	}
	ref, parsed := ParseName(name)
	if parsed && ref.Resolution != g.resolution {
		log.Printf("locate: skip %s: name says res%d, group is res%d", name, ref.Resolution, g.resolution)
		return TableRef{}, false
	}
	ref.Resolution = g.resolution
	return ref, true
}

// Lister is the subset of Workspace the locator needs.
type Lister interface {
	ListTables(ctx context.Context) ([]string, error)
}

// Locate lists the workspace and returns matching tables ordered by part
// (then name). No matches is not an error: the result is simply empty.
func Locate(ctx context.Context, ws Lister, m Matcher) ([]TableRef, error) {
	names, err := ws.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate: list tables: %w", err)
	}
	return Filter(names, m), nil
}

// Filter applies m to names and sorts the matches.
func Filter(names []string, m Matcher) []TableRef {
	seen := make(map[string]struct{}, len(names))
	out := make([]TableRef, 0)
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if ref, ok := m.Match(n); ok {
			out = append(out, ref)
		}
	}
	SortTables(out)
	DisambiguateParts(out)
	return out
}

// DisambiguateParts tags refs with their table name when two tables of the
// same resolution would otherwise share a SourcePart, as part003 and part3
// do.
func DisambiguateParts(refs []TableRef) {
	type key struct {
		res  int
		part string
	}
	count := make(map[key]int, len(refs))
	for _, r := range refs {
		count[key{r.Resolution, r.SourcePart()}]++
	}
	for i, r := range refs {
		if count[key{r.Resolution, r.SourcePart()}] > 1 {
			log.Printf("locate: %s shares source part %q with another table; tagging rows with the table name", r.Name, r.SourcePart())
			refs[i].Tag = r.Name
		}
	}
}

// SortTables orders refs by part ascending; unparsed names sort after parsed
// ones, alphabetically.
func SortTables(refs []TableRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.HasPart != b.HasPart {
			return a.HasPart
		}
		if a.HasPart && a.Part != b.Part {
			return a.Part < b.Part
		}
		return a.Name < b.Name
	})
}

// Group is one resolution's worth of tables.
type Group struct {
	Resolution int
	Tables     []TableRef
}

// GroupByResolution splits refs into per-resolution groups ordered by
// resolution; each group's tables are sorted by part.
func GroupByResolution(refs []TableRef) []Group {
	byRes := map[int][]TableRef{}
	for _, r := range refs {
		byRes[r.Resolution] = append(byRes[r.Resolution], r)
	}
	keys := make([]int, 0, len(byRes))
	for k := range byRes {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Group, 0, len(keys))
	for _, k := range keys {
		ts := byRes[k]
		SortTables(ts)
		out = append(out, Group{Resolution: k, Tables: ts})
	}
	return out
}
