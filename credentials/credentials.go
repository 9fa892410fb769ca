// Package credentials describes the secrets that step capabilities need and
// checks whether they are present in the environment. Values are never read
// beyond a presence check and never stored.
package credentials

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrMissing is matched by MissingError.
var ErrMissing = errors.New("missing credentials")

// HealthCheck describes how an operator can verify a credential. It is
// metadata only; this package never performs the request.
type HealthCheck struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Method   string `yaml:"method" json:"method"`
}

// Spec describes one credential.
type Spec struct {
	ID                    string      `yaml:"id" json:"id"`
	Name                  string      `yaml:"name" json:"name"`
	EnvVar                string      `yaml:"env_var" json:"env_var"`
	Description           string      `yaml:"description" json:"description"`
	Tools                 []string    `yaml:"tools" json:"tools"`
	Required              bool        `yaml:"required" json:"required"`
	StartupRequired       bool        `yaml:"startup_required" json:"startup_required"`
	HelpURL               string      `yaml:"help_url" json:"help_url"`
	ManagedProvider       string      `yaml:"managed_provider,omitempty" json:"managed_provider,omitempty"`
	DirectAPIKeySupported bool        `yaml:"direct_api_key_supported" json:"direct_api_key_supported"`
	APIKeyInstructions    string      `yaml:"api_key_instructions" json:"api_key_instructions"`
	HealthCheck           HealthCheck `yaml:"health_check" json:"health_check"`
	CredentialID          string      `yaml:"credential_id" json:"credential_id"`
	CredentialKey         string      `yaml:"credential_key" json:"credential_key"`
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// Catalog indexes credential specs by id and by tool name.
type Catalog struct {
	specs  map[string]*Spec
	byTool map[string]*Spec
	order  []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("credentials: invalid built-in catalog: %v", err))
	}
	return c
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Credentials []Spec `yaml:"credentials"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential catalog: %w", err)
	}

	c := &Catalog{specs: map[string]*Spec{}, byTool: map[string]*Spec{}}
	for i := range doc.Credentials {
		s := &doc.Credentials[i]
		if s.ID == "" || s.EnvVar == "" {
			return nil, fmt.Errorf("credential %d: id and env_var are required", i)
		}
		if _, dup := c.specs[s.ID]; dup {
			return nil, fmt.Errorf("credential %q declared twice", s.ID)
		}
		for _, tool := range s.Tools {
			if other, dup := c.byTool[tool]; dup {
				return nil, fmt.Errorf("tool %q claimed by both %q and %q", tool, other.ID, s.ID)
			}
			c.byTool[tool] = s
		}
		c.specs[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	return c, nil
}

// Lookup returns the spec with the given id.
func (c *Catalog) Lookup(id string) (*Spec, bool) {
	s, ok := c.specs[id]
	return s, ok
}

// ForTool returns the credential a tool needs.
func (c *Catalog) ForTool(tool string) (*Spec, bool) {
	s, ok := c.byTool[tool]
	return s, ok
}

// All returns specs in catalog order.
func (c *Catalog) All() []*Spec {
	out := make([]*Spec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id])
	}
	return out
}

// Missing returns the required credentials needed by tools whose environment
// variable is unset or blank. Tools without a catalog entry need nothing.
func (c *Catalog) Missing(tools []string, lookup LookupEnv) []*Spec {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	seen := map[string]bool{}
	var out []*Spec
	for _, tool := range tools {
		s, ok := c.byTool[tool]
		if !ok || !s.Required || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		if !present(s, lookup) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartupMissing returns startup-required credentials that are absent.
func (c *Catalog) StartupMissing(lookup LookupEnv) []*Spec {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var out []*Spec
	for _, s := range c.All() {
		if s.StartupRequired && !present(s, lookup) {
			out = append(out, s)
		}
	}
	return out
}

func present(s *Spec, lookup LookupEnv) bool {
	v, ok := lookup(s.EnvVar)
	return ok && strings.TrimSpace(v) != ""
}

// MissingError lists absent credentials.
type MissingError struct {
	Specs []*Spec
}

func (e *MissingError) Error() string {
	vars := make([]string, 0, len(e.Specs))
	for _, s := range e.Specs {
		vars = append(vars, s.EnvVar)
	}
	return fmt.Sprintf("missing credentials: set %s", strings.Join(vars, ", "))
}

func (e *MissingError) Unwrap() error { return ErrMissing }

// Check returns a *MissingError when any credential needed by tools is absent.
func (c *Catalog) Check(tools []string, lookup LookupEnv) error {
	if missing := c.Missing(tools, lookup); len(missing) > 0 {
		return &MissingError{Specs: missing}
	}
	return nil
}
