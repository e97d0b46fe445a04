package format

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/lazypower/stepwise/internal/engine"
	"github.com/lazypower/stepwise/internal/step"
	"github.com/lazypower/stepwise/internal/store"
	"github.com/lazypower/stepwise/internal/templates"
)

const noteWidth = 60

// Steps renders a step listing, newest first as given.
func Steps(entries []store.StepEntry, total int, m Mode) string {
	t := NewTable(m)
	t.Header("ID", "Created", "Template", "Policy", "Observation")
	t.Columns(Column{Number: 1, AlignR: true})
	for _, e := range entries {
		t.Row(e.ID, Created(e), e.TemplateID, PolicyLabel(e.Policy), Compact(e.Observation))
	}
	t.Footer("", "", "", fmt.Sprintf("%d shown", len(entries)), fmt.Sprintf("%d total", total))
	return t.String()
}

// Step renders one entry as a key/value table followed by its notes.
func Step(e *store.StepEntry, m Mode) string {
	t := NewTable(m)
	t.Header("Field", "Value")
	t.Columns(Column{Number: 2, MaxWidth: noteWidth})
	t.Row("id", e.ID)
	t.Row("created", Created(*e))
	t.Row("template", e.TemplateID)
	t.Row("policy", PolicyLabel(e.Policy))
	t.Row("hidden state", Compact(e.HiddenState))
	t.Row("observation", Compact(e.Observation))
	t.Row("predicted", Compact(e.PredictedObservation))
	return t.String() + "\n" + Notes(e.Notes)
}

// Result renders one evaluation.
func Result(r *engine.Result, m Mode) string {
	t := NewTable(m)
	t.Header("Field", "Value")
	t.Columns(Column{Number: 2, MaxWidth: noteWidth})
	t.Row("template", r.TemplateID)
	t.Row("policy", PolicyLabel(r.Output.Policy))
	t.Row("observation", Compact(r.Input.Observation))
	t.Row("predicted", Compact(r.Output.PredictedObservation))
	if r.ID != 0 {
		t.Row("saved as", r.ID)
	}
	return t.String() + "\n" + Notes(r.Output.Notes)
}

// Templates renders the template list.
func Templates(list []*templates.Template, m Mode) string {
	t := NewTable(m)
	t.Header("ID", "Title", "Fields")
	for _, tmpl := range list {
		keys := make([]string, len(tmpl.Fields))
		for i, f := range tmpl.Fields {
			keys[i] = f.Key
		}
		t.Row(tmpl.ID, tmpl.Title, strings.Join(keys, ", "))
	}
	return t.String()
}

// Fields renders one template's field definitions.
func Fields(tmpl *templates.Template, m Mode) string {
	t := NewTable(m)
	t.Header("Key", "Label", "Min", "Max", "Step", "Default")
	t.Columns(
		Column{Number: 3, AlignR: true},
		Column{Number: 4, AlignR: true},
		Column{Number: 5, AlignR: true},
		Column{Number: 6, AlignR: true},
	)
	for _, f := range tmpl.Fields {
		t.Row(f.Key, f.Label, f.Min, f.Max, f.Step, f.Default)
	}
	return t.String()
}

// Notes renders a numbered note list.
func Notes(notes []string) string {
	var b strings.Builder
	for i, n := range notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, n)
	}
	return b.String()
}

// Created formats an entry's timestamp, falling back to the stored text.
func Created(e store.StepEntry) string {
	if e.CreatedAt.IsZero() {
		return e.CreatedAtRaw
	}
	return e.CreatedAt.Format(time.DateTime)
}

// PolicyLabel marks policies the current engine would not choose.
func PolicyLabel(p step.Policy) string {
	if p.Known() {
		return string(p)
	}
	return string(p) + " (unknown)"
}

// Compact renders a map as sorted key=value pairs.
func Compact(m step.Map) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+"="+scalar(m[k]))
	}
	return strings.Join(parts, " ")
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	case float64, float32, int, int64, bool:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
