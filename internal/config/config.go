// Package config loads analysis requests from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/wilskk/statify-sub002/internal/contrast"
	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/glm"
	"github.com/wilskk/statify-sub002/internal/robust"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalid           = errors.New("invalid request")
)

// Factor declares one categorical variable.
type Factor struct {
	Name      string `yaml:"name" toml:"name"`
	Contrast  string `yaml:"contrast,omitempty" toml:"contrast,omitempty"`
	Reference string `yaml:"reference,omitempty" toml:"reference,omitempty"`
}

// UnmarshalYAML also accepts a bare factor name.
func (f *Factor) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Name = node.Value
		return nil
	}
	type plain Factor
	return node.Decode((*plain)(f))
}

// Request is one analysis request.
type Request struct {
	Dependent    string   `yaml:"dependent" toml:"dependent"`
	Intercept    *bool    `yaml:"intercept,omitempty" toml:"intercept,omitempty"`
	Factors      []Factor `yaml:"factors,omitempty" toml:"factors,omitempty"`
	Covariates   []string `yaml:"covariates,omitempty" toml:"covariates,omitempty"`
	Interactions []string `yaml:"interactions,omitempty" toml:"interactions,omitempty"`
	Terms        []string `yaml:"terms,omitempty" toml:"terms,omitempty"`
	Weight       string   `yaml:"weight,omitempty" toml:"weight,omitempty"`
	CaseID       string   `yaml:"case_id,omitempty" toml:"case_id,omitempty"`

	SSType    string  `yaml:"ss_type,omitempty" toml:"ss_type,omitempty"`
	Alpha     float64 `yaml:"alpha,omitempty" toml:"alpha,omitempty"`
	Robust    bool    `yaml:"robust,omitempty" toml:"robust,omitempty"`
	HC        string  `yaml:"hc,omitempty" toml:"hc,omitempty"`
	Workers   int     `yaml:"workers,omitempty" toml:"workers,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty" toml:"tolerance,omitempty"`
}

// Load reads a request, choosing the decoder by file extension.
func Load(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".toml":
		return ParseTOML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML request and applies defaults.
func ParseYAML(data []byte) (*Request, error) {
	var r Request
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseTOML decodes a TOML request and applies defaults.
func ParseTOML(data []byte) (*Request, error) {
	var r Request
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ApplyDefaults fills unset fields.
func (r *Request) ApplyDefaults() {
	if r.Intercept == nil {
		on := true
		r.Intercept = &on
	}
	if r.SSType == "" {
		r.SSType = "III"
	}
	if r.Alpha == 0 {
		r.Alpha = 0.05
	}
	if r.HC == "" {
		r.HC = robust.Default.String()
	}
	for i := range r.Factors {
		if r.Factors[i].Contrast == "" {
			r.Factors[i].Contrast = contrast.Indicator.String()
		}
		if r.Factors[i].Reference == "" {
			r.Factors[i].Reference = "last"
		}
	}
}

// Validate checks the request without touching any data.
func (r *Request) Validate() error {
	if _, err := r.Spec(); err != nil {
		return err
	}
	_, err := r.Options()
	return err
}

// Spec converts the request's variable roles.
func (r *Request) Spec() (design.Spec, error) {
	if strings.TrimSpace(r.Dependent) == "" {
		return design.Spec{}, fmt.Errorf("%w: dependent variable is required", ErrInvalid)
	}
	spec := design.Spec{
		Dependent:    r.Dependent,
		Intercept:    r.Intercept == nil || *r.Intercept,
		Covariates:   r.Covariates,
		Interactions: r.Interactions,
		Terms:        r.Terms,
		Weight:       r.Weight,
		CaseID:       r.CaseID,
	}
	for _, f := range r.Factors {
		if f.Name == "" {
			return design.Spec{}, fmt.Errorf("%w: factor without a name", ErrInvalid)
		}
		method := contrast.Indicator
		if f.Contrast != "" {
			var err error
			if method, err = contrast.ParseMethod(f.Contrast); err != nil {
				return design.Spec{}, fmt.Errorf("%w: factor %s: %w", ErrInvalid, f.Name, err)
			}
		}
		ref, err := contrast.ParseReference(f.Reference)
		if err != nil {
			return design.Spec{}, fmt.Errorf("%w: factor %s: %w", ErrInvalid, f.Name, err)
		}
		spec.Factors = append(spec.Factors, design.FactorSpec{Name: f.Name, Method: method, Reference: ref})
	}
	if _, err := spec.Roles(); err != nil {
		return design.Spec{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return spec, nil
}

// Options converts the request's test settings.
func (r *Request) Options() (glm.Options, error) {
	opts := glm.DefaultOptions()
	typ, err := estimable.ParseType(r.SSType)
	if err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	hc, err := robust.ParseHC(r.HC)
	if err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	opts.SSType = typ
	opts.HC = hc
	opts.Robust = r.Robust
	if r.Alpha != 0 {
		opts.Alpha = r.Alpha
	}
	if r.Workers > 0 {
		opts.Workers = r.Workers
	}
	if r.Tolerance > 0 {
		opts.Tolerance = r.Tolerance
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return opts, nil
}
