// Package matrix expands a job's strategy matrix into the concrete set of
// parameterized job runs.
//
// Expansion is deterministic: axes in declaration order, values in declaration
// order, excludes applied before includes. Include entries follow the source
// platform's semantics: they extend every combination they don't conflict
// with, and become standalone combinations when they extend none.
package matrix

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/workflow"
)

// Entry is one expanded matrix combination.
type Entry struct {
	keys   []string
	values map[string]string
}

// NewEntry builds an entry with the given key order.
func NewEntry(keys []string, values map[string]string) Entry {
	e := Entry{keys: append([]string(nil), keys...), values: map[string]string{}}
	for k, v := range values {
		e.values[k] = v
	}
	return e
}

// Keys returns the entry's keys in axis declaration order, include-added keys
// last.
func (e Entry) Keys() []string { return append([]string(nil), e.keys...) }

// Get returns the value for a key, "" when absent.
func (e Entry) Get(key string) string { return e.values[key] }

// Len returns the number of key/value pairs.
func (e Entry) Len() int { return len(e.keys) }

// Values returns a copy of the entry's key/value pairs.
func (e Entry) Values() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Title renders the entry for display: "os=ubuntu-latest, python=3.8".
// An empty entry renders as "".
func (e Entry) Title() string {
	parts := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, e.values[k]))
	}
	return strings.Join(parts, ", ")
}

var interpolateRe = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z_][A-Za-z0-9_-]*)\s*\}\}`)

// Interpolate substitutes ${{ matrix.<key> }} references in s. Unknown keys
// become the empty string; workflow validation rejects undeclared references
// before a run starts, so this leniency only shows for entries built in code.
func (e Entry) Interpolate(s string) string {
	return interpolateRe.ReplaceAllStringFunc(s, func(m string) string {
		key := interpolateRe.FindStringSubmatch(m)[1]
		return e.values[key]
	})
}

// InterpolateMap applies Interpolate to every value of a string map.
func (e Entry) InterpolateMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = e.Interpolate(v)
	}
	return out
}

var envKeyRe = regexp.MustCompile(`[^A-Z0-9_]`)

// Env renders the entry as environment variables with the given prefix:
// prefix + upper-cased axis name, non-alphanumerics collapsed to underscores.
func (e Entry) Env(prefix string) map[string]string {
	out := make(map[string]string, len(e.keys))
	for _, k := range e.keys {
		name := envKeyRe.ReplaceAllString(strings.ToUpper(k), "_")
		out[prefix+name] = e.values[k]
	}
	return out
}

func (e Entry) fingerprint() string {
	keys := append([]string(nil), e.keys...)
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.values[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// Expand produces the job runs a strategy describes. A nil strategy or an
// empty matrix yields a single empty entry, i.e. one unparameterized run.
func Expand(strategy *workflow.Strategy) ([]Entry, error) {
	if strategy == nil || strategy.Matrix == nil {
		return []Entry{{}}, nil
	}
	m := strategy.Matrix

	for _, axis := range m.Order {
		if len(m.Axes[axis]) == 0 {
			return nil, fmt.Errorf("matrix axis %q has no values", axis)
		}
	}

	entries := product(m)
	entries = applyExcludes(entries, m.Exclude)
	entries = applyIncludes(entries, m)
	entries = dedupe(entries)

	if len(entries) == 0 {
		return nil, fmt.Errorf("matrix expansion produced no combinations")
	}
	return entries, nil
}

// product walks the axes outermost-first so the first axis varies slowest,
// keeping the expansion order readable in run listings.
func product(m *workflow.Matrix) []Entry {
	if len(m.Order) == 0 {
		return nil
	}
	entries := []Entry{{keys: nil, values: map[string]string{}}}
	for _, axis := range m.Order {
		next := make([]Entry, 0, len(entries)*len(m.Axes[axis]))
		for _, e := range entries {
			for _, value := range m.Axes[axis] {
				ne := NewEntry(e.keys, e.values)
				ne.keys = append(ne.keys, axis)
				ne.values[axis] = value
				next = append(next, ne)
			}
		}
		entries = next
	}
	return entries
}

// applyExcludes removes entries that a partial exclude entry matches in full.
func applyExcludes(entries []Entry, excludes []workflow.StringMap) []Entry {
	if len(excludes) == 0 {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		excluded := false
		for _, excl := range excludes {
			if len(excl) > 0 && subsetOf(excl, e) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, e)
		}
	}
	return out
}

func subsetOf(partial workflow.StringMap, e Entry) bool {
	for k, v := range partial {
		if e.values[k] != v {
			return false
		}
	}
	return true
}

// applyIncludes augments entries per the source platform's rules: an include
// extends every combination whose original axis values it doesn't contradict;
// if it extends none, it becomes a new standalone combination.
func applyIncludes(entries []Entry, m *workflow.Matrix) []Entry {
	for _, incl := range m.Include {
		if len(incl) == 0 {
			continue
		}
		matched := false
		for i := range entries {
			if conflictsWithAxes(incl, entries[i], m) {
				continue
			}
			matched = true
			for _, k := range sortedKeys(incl) {
				if _, isAxis := m.Axes[k]; isAxis {
					continue // axis value already equal, nothing to add
				}
				if _, exists := entries[i].values[k]; !exists {
					entries[i].keys = append(entries[i].keys, k)
				}
				entries[i].values[k] = incl[k]
			}
		}
		if !matched {
			e := Entry{values: map[string]string{}}
			for _, k := range sortedKeys(incl) {
				e.keys = append(e.keys, k)
				e.values[k] = incl[k]
			}
			entries = append(entries, e)
		}
	}
	return entries
}

// conflictsWithAxes reports whether the include names an original axis with a
// value different from the entry's, which would overwrite a matrix value.
func conflictsWithAxes(incl workflow.StringMap, e Entry, m *workflow.Matrix) bool {
	for k, v := range incl {
		if _, isAxis := m.Axes[k]; !isAxis {
			continue
		}
		if e.values[k] != v {
			return true
		}
	}
	return false
}

func sortedKeys(m workflow.StringMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		fp := e.fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, e)
	}
	return out
}
