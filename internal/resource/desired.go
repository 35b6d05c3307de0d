package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// State is the declared presence of a resource.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

// Properties are declared property values. Scalars of any type are accepted
// and kept in their textual form; JSON numbers keep their literal digits.
type Properties map[string]string

func (p *Properties) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*p = nil
		return nil
	}
	out := make(Properties, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case json.Number:
			out[k] = tv.String()
		case bool:
			out[k] = fmt.Sprint(tv)
		case nil:
			out[k] = ""
		default:
			return fmt.Errorf("property %q: expected scalar, got %T", k, v)
		}
	}
	*p = out
	return nil
}

func (p *Properties) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: properties must be a mapping", node.Line)
	}
	out := make(Properties, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: property %q: expected scalar", val.Line, key.Value)
		}
		if val.Tag == "!!null" {
			out[key.Value] = ""
			continue
		}
		out[key.Value] = val.Value
	}
	*p = out
	return nil
}

// Desired is one declared resource. It is never mutated after loading.
type Desired struct {
	Kind        string     `yaml:"kind" json:"kind"`
	Name        string     `yaml:"name,omitempty" json:"name,omitempty"`
	State       State      `yaml:"state" json:"state"`
	Properties  Properties `yaml:"properties,omitempty" json:"properties,omitempty"`
	File        string     `yaml:"file,omitempty" json:"file,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks the record against the kind before any remote call.
func (d Desired) Validate(k Kind) error {
	for _, field := range k.Required {
		missing := false
		switch field {
		case FieldName:
			missing = strings.TrimSpace(d.Name) == ""
		case FieldState:
			missing = d.State == ""
		case FieldProperties:
			missing = d.Properties == nil
		case FieldFile:
			missing = strings.TrimSpace(d.File) == ""
		}
		if missing {
			return &ValidationError{Kind: k.ID, Name: d.Name, Field: field, Reason: "required"}
		}
	}
	if !k.Allows(d.State) {
		return &ValidationError{
			Kind:   k.ID,
			Name:   d.Name,
			Field:  FieldState,
			Reason: fmt.Sprintf("%q not in %v", d.State, k.ValidStates),
		}
	}
	for key := range d.Properties {
		if strings.TrimSpace(key) == "" {
			return &ValidationError{Kind: k.ID, Name: d.Name, Field: FieldProperties, Reason: "empty property name"}
		}
	}
	return nil
}

// ResolvedProperties returns the desired properties with file-backed values
// replaced by the contents of the file they name.
func (d Desired) ResolvedProperties(k Kind) (Properties, error) {
	out := make(Properties, len(d.Properties))
	maps.Copy(out, d.Properties)
	for name, value := range out {
		if !k.IsFileProperty(name) || value == "" {
			continue
		}
		data, err := os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("resource: read %s for %s: %w", value, name, err)
		}
		out[name] = string(data)
	}
	return out, nil
}

// DecodeDocuments reads a stream of YAML documents, one Desired each.
// Empty documents are skipped.
func DecodeDocuments(r io.Reader) ([]Desired, error) {
	dec := yaml.NewDecoder(r)
	var out []Desired
	for i := 0; ; i++ {
		var d Desired
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resource: document %d: %w", i, err)
		}
		if d.Kind == "" && d.Name == "" && d.State == "" {
			continue
		}
		out = append(out, d)
	}
}

// LoadFile reads desired records from a YAML file.
func LoadFile(path string) ([]Desired, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("resource: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeDocuments(f)
}
