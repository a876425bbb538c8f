// Package buildlog extracts structure from external builder output with named
// regular expression scans: ad-hoc key/pattern lookups, table extraction with
// header/row/footer patterns, and a builder-specific report parser on top.
//
// Scanning is best-effort by design. The authoritative build outcome is the
// builder's exit code; anything recovered from the log only enriches history
// and summaries, so a log that matches nothing is fine.
package buildlog

import (
	"fmt"
	"regexp"
)

// ScanOptions adjusts Scan behavior.
type ScanOptions struct {
	// FirstOnly stops after the first match of each pattern.
	FirstOnly bool
}

// Scan applies each named pattern to the log and returns the submatch groups
// of every match, keyed by pattern name. Patterns that match nothing are
// absent from the result.
func Scan(log string, patterns map[string]*regexp.Regexp, opts ScanOptions) map[string][][]string {
	out := map[string][][]string{}
	for name, re := range patterns {
		if re == nil {
			continue
		}
		limit := -1
		if opts.FirstOnly {
			limit = 1
		}
		matches := re.FindAllStringSubmatch(log, limit)
		if len(matches) == 0 {
			continue
		}
		groups := make([][]string, 0, len(matches))
		for _, m := range matches {
			groups = append(groups, m[1:])
		}
		out[name] = groups
	}
	return out
}

// TableSpec describes a repeating table in the log: a header pattern, a row
// pattern applied line by line to the body, and a footer pattern ending it.
type TableSpec struct {
	Header *regexp.Regexp
	Row    *regexp.Regexp
	Footer *regexp.Regexp
}

// ScanTable extracts every occurrence of the table from the log. The result
// is one slice of rows per table, each row the submatch groups of the row
// pattern.
func ScanTable(log string, spec TableSpec) ([][][]string, error) {
	if spec.Header == nil || spec.Row == nil || spec.Footer == nil {
		return nil, fmt.Errorf("table spec needs header, row and footer patterns")
	}
	combined, err := regexp.Compile(`(?s)` + spec.Header.String() + `(.*?)` + spec.Footer.String())
	if err != nil {
		return nil, fmt.Errorf("combine table patterns: %w", err)
	}

	// The body group sits after any capture groups the header itself has.
	bodyIdx := spec.Header.NumSubexp() + 1

	var tables [][][]string
	for _, m := range combined.FindAllStringSubmatch(log, -1) {
		body := m[bodyIdx]
		rows := spec.Row.FindAllStringSubmatch(body, -1)
		table := make([][]string, 0, len(rows))
		for _, row := range rows {
			table = append(table, row[1:])
		}
		tables = append(tables, table)
	}
	return tables, nil
}
