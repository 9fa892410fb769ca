package graph

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var definitionSchema = jsonschema.MustCompileString("pipeflow://graph.schema.json", schemaJSON)

// DecodeYAML decodes and schema-checks a YAML definition without compiling it.
func DecodeYAML(data []byte) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph YAML: %w", err)
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert graph YAML: %w", err)
	}
	return DecodeJSON(doc)
}

// DecodeJSON decodes and schema-checks a JSON definition without compiling it.
func DecodeJSON(data []byte) (*Definition, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph JSON: %w", err)
	}
	if err := definitionSchema.Validate(raw); err != nil {
		return nil, &Error{Kind: ErrSchema, Detail: err.Error()}
	}

	var def Definition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to decode graph definition: %w", err)
	}
	return &def, nil
}

// ParseYAML decodes and compiles a YAML definition.
func ParseYAML(data []byte) (*Graph, error) {
	def, err := DecodeYAML(data)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// ParseJSON decodes and compiles a JSON definition.
func ParseJSON(data []byte) (*Graph, error) {
	def, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// LoadFile loads a definition from disk. Files ending in .json are parsed as
// JSON, everything else as YAML.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	var g *Graph
	if strings.EqualFold(filepath.Ext(path), ".json") {
		g, err = ParseJSON(data)
	} else {
		g, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// LoadGlob loads every definition matching a doublestar pattern such as
// "pipelines/**/*.yaml". Graphs are keyed by id; a duplicate id is an error.
func LoadGlob(pattern string) (map[string]*Graph, error) {
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid graph pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	graphs := make(map[string]*Graph, len(paths))
	var errs []error
	for _, p := range paths {
		g, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := graphs[g.ID()]; dup {
			errs = append(errs, fmt.Errorf("%s: graph id %q already loaded", p, g.ID()))
			continue
		}
		graphs[g.ID()] = g
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return graphs, nil
}

// ToJSON renders the definition as indented JSON.
func (d *Definition) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return data, nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return data, nil
}
