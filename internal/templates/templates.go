// Package templates defines the input forms that turn raw user values into
// an engine input. Definitions are embedded YAML files, one per template.
package templates

import (
	"embed"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/step"
)

//go:embed *.yaml
var templateFS embed.FS

// FieldDef describes one integer input of a template.
type FieldDef struct {
	Key     string `yaml:"key" json:"key" validate:"required"`
	Label   string `yaml:"label" json:"label" validate:"required"`
	Min     int    `yaml:"min" json:"min"`
	Max     int    `yaml:"max" json:"max" validate:"gtefield=Min"`
	Step    int    `yaml:"step" json:"step" validate:"gte=1"`
	Default int    `yaml:"default" json:"default"`
}

// Template is a named set of fields plus the fixed preferences and precision
// handed to the engine with every submission.
type Template struct {
	ID          string             `yaml:"id" json:"id" validate:"required"`
	Title       string             `yaml:"title" json:"title" validate:"required"`
	Description string             `yaml:"description" json:"description,omitempty"`
	Fields      []FieldDef         `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
	HiddenState []string           `yaml:"hidden_state" json:"hiddenState"`
	Preferences map[string]float64 `yaml:"preferences" json:"preferences"`
	Precision   map[string]float64 `yaml:"precision" json:"precision"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(fieldLevel, FieldDef{})
	v.RegisterStructValidation(templateLevel, Template{})
	return v
}

func fieldLevel(sl validator.StructLevel) {
	f := sl.Current().Interface().(FieldDef)
	if f.Default < f.Min || f.Default > f.Max {
		sl.ReportError(f.Default, "Default", "Default", "inrange", "")
	}
}

func templateLevel(sl validator.StructLevel) {
	t := sl.Current().Interface().(Template)
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if seen[f.Key] {
			sl.ReportError(t.Fields, "Fields", "Fields", "uniquekeys", f.Key)
		}
		seen[f.Key] = true
	}
	for _, k := range t.HiddenState {
		if !seen[k] {
			sl.ReportError(t.HiddenState, "HiddenState", "HiddenState", "fieldkey", k)
		}
	}
}

// Field returns the definition for key, or nil.
func (t *Template) Field(key string) *FieldDef {
	for i := range t.Fields {
		if t.Fields[i].Key == key {
			return &t.Fields[i]
		}
	}
	return nil
}

// Defaults returns the raw form values a blank submission would use.
func (t *Template) Defaults() map[string]string {
	out := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Key] = strconv.Itoa(f.Default)
	}
	return out
}

// Parse validates raw form values and builds the engine input. Missing or
// blank values take the field default. Every invalid field is reported in
// the returned error's metadata, keyed by field.
func (t *Template) Parse(raw map[string]string) (step.Input, error) {
	obs := make(step.Map, len(t.Fields))
	problems := map[string]string{}

	for _, f := range t.Fields {
		v := strings.TrimSpace(raw[f.Key])
		if v == "" {
			obs[f.Key] = f.Default
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			problems[f.Key] = fmt.Sprintf("%s must be an integer", f.Label)
			continue
		}
		if err := validate.Var(n, fmt.Sprintf("gte=%d,lte=%d", f.Min, f.Max)); err != nil {
			problems[f.Key] = fmt.Sprintf("%s must be between %d and %d", f.Label, f.Min, f.Max)
			continue
		}
		if f.Step > 1 && (n-f.Min)%f.Step != 0 {
			problems[f.Key] = fmt.Sprintf("%s must move in steps of %d from %d", f.Label, f.Step, f.Min)
			continue
		}
		obs[f.Key] = n
	}

	if len(problems) > 0 {
		keys := slices.Sorted(maps.Keys(problems))
		return step.Input{}, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("template %s: invalid %s", t.ID, strings.Join(keys, ", "))).
			WithMetadata(problems)
	}

	hidden := make(step.Map, len(t.HiddenState))
	for _, k := range t.HiddenState {
		hidden[k] = obs[k]
	}

	return step.Input{
		HiddenState: hidden,
		Observation: obs,
		Preferences: maps.Clone(t.Preferences),
		Precision:   maps.Clone(t.Precision),
	}.Normalize(), nil
}

// FormValues re-derives raw form values from a logged observation so a past
// step can be submitted again. Keys the template does not define are
// dropped; missing ones take the field default.
func (t *Template) FormValues(obs step.Map) map[string]string {
	out := t.Defaults()
	for _, f := range t.Fields {
		if _, ok := obs[f.Key]; ok {
			out[f.Key] = strconv.Itoa(obs.Int(f.Key))
		}
	}
	return out
}

// Registry holds the loaded templates by id.
type Registry struct {
	byID map[string]*Template
	ids  []string
}

// Load reads and validates every embedded template.
func Load() (*Registry, error) {
	entries, err := templateFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var defs [][]byte
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := templateFS.ReadFile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		defs = append(defs, data)
	}
	return FromYAML(defs...)
}

// FromYAML builds a registry from raw YAML definitions.
func FromYAML(defs ...[]byte) (*Registry, error) {
	r := &Registry{byID: map[string]*Template{}}
	for i, data := range defs {
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse template #%d: %w", i, err)
		}
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("validate template %q: %w", t.ID, err)
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		r.byID[t.ID] = &t
		r.ids = append(r.ids, t.ID)
	}
	slices.Sort(r.ids)
	return r, nil
}

// Get returns the template with the given id or a TemplateUnknown error.
func (r *Registry) Get(id string) (*Template, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeTemplateUnknown,
			fmt.Sprintf("unknown template %q (available: %s)", id, strings.Join(r.ids, ", ")))
	}
	return t, nil
}

// List returns all templates sorted by id.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}
