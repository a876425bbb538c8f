// Package summary renders human-readable run summaries. Steps append
// Markdown to the file named by WHEELWORKS_STEP_SUMMARY; the engine collects
// those fragments and composes a run-level document for history, the daemon
// status pages and notification payloads.
package summary

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// EnvStepSummary is the environment variable steps write their summary
// fragment through.
const EnvStepSummary = "WHEELWORKS_STEP_SUMMARY"

// Render converts Markdown to HTML. Tables are enabled because composed
// summaries use them.
func Render(source []byte) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Collector hands out per-step summary files inside one job's workspace and
// gathers whatever the steps wrote.
type Collector struct {
	dir string
}

// NewCollector creates the summary directory for a job.
func NewCollector(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create summary directory: %w", err)
	}
	return &Collector{dir: dir}, nil
}

// PathFor returns the file a step should append its summary to. The file is
// created empty so the step can rely on it existing.
func (c *Collector) PathFor(stepIndex int) (string, error) {
	path := filepath.Join(c.dir, fmt.Sprintf("step_%02d.md", stepIndex))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 - path built from the index
	if err != nil {
		return "", fmt.Errorf("create step summary file: %w", err)
	}
	_ = f.Close()
	return path, nil
}

// Collect concatenates all non-empty step fragments in step order.
func (c *Collector) Collect() (string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read summary directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var out strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(c.dir, name)) // #nosec G304
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(text)
	}
	return out.String(), nil
}
