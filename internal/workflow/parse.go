package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// StringList accepts either a single scalar or a sequence of scalars, the two
// forms the definition format allows for fields like branches and matrix axes.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected scalar list item", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected scalar or list", node.Line)
	}
}

// StringMap is a mapping with scalar values. Values keep their literal YAML
// text: python-version: 3.10 stays "3.10", not a float.
type StringMap map[string]string

func (m *StringMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected mapping", node.Line)
	}
	out := make(StringMap, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value for %q must be a scalar", val.Line, key.Value)
		}
		out[key.Value] = val.Value
	}
	*m = out
	return nil
}

func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping", node.Line)
	}
	m.Axes = map[string]StringList{}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "include":
			if err := val.Decode(&m.Include); err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
		case "exclude":
			if err := val.Decode(&m.Exclude); err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
		default:
			var values StringList
			if err := values.UnmarshalYAML(val); err != nil {
				return fmt.Errorf("matrix axis %q: %w", key.Value, err)
			}
			m.Axes[key.Value] = values
			m.Order = append(m.Order, key.Value)
		}
	}
	return nil
}

// UnmarshalYAML accepts the three trigger spellings: a bare scalar
// ("on: push"), a sequence ("on: [push]") and the full mapping form with
// per-event filters. Unknown event names are rejected here since the custom
// unmarshaller bypasses the decoder's strict mode.
func (t *Trigger) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return t.setEvent(node.Value, nil)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: trigger list items must be event names", item.Line)
			}
			if err := t.setEvent(item.Value, nil); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if err := t.setEvent(key.Value, val); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: invalid trigger", node.Line)
	}
}

func (t *Trigger) setEvent(name string, filter *yaml.Node) error {
	switch name {
	case "push":
		push := &PushTrigger{}
		if filter != nil && filter.Kind != 0 && !isNullNode(filter) {
			if err := decodeStrictNode(filter, push); err != nil {
				return fmt.Errorf("push trigger: %w", err)
			}
		}
		t.Push = push
		return nil
	default:
		return fmt.Errorf("unsupported trigger event %q", name)
	}
}

func isNullNode(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "")
}

// decodeStrictNode re-encodes a node and decodes it with KnownFields, since
// Node.Decode alone does not reject unknown keys.
func decodeStrictNode(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Parse decodes a workflow definition. Unknown keys anywhere in the document
// are an error, so misspelled fields fail at parse time instead of being
// silently ignored.
func Parse(data []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty workflow definition")
		}
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	wf.jobOrder = jobKeyOrder(data)
	return &wf, nil
}

// Load reads and parses a workflow file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	wf.source = path
	return wf, nil
}

// jobKeyOrder extracts the jobs mapping keys in document order. Struct
// decoding goes through a Go map, so declaration order has to be recovered
// from the raw document.
func jobKeyOrder(data []byte) []string {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(root.Content); i += 2 {
		if root.Content[i].Value != "jobs" {
			continue
		}
		jobs := root.Content[i+1]
		if jobs.Kind != yaml.MappingNode {
			return nil
		}
		order := make([]string, 0, len(jobs.Content)/2)
		for j := 0; j < len(jobs.Content); j += 2 {
			order = append(order, jobs.Content[j].Value)
		}
		return order
	}
	return nil
}
