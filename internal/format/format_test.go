package format

import (
	"strings"
	"testing"
	"time"

	"github.com/lazypower/stepwise/internal/engine"
	"github.com/lazypower/stepwise/internal/step"
	"github.com/lazypower/stepwise/internal/store"
	"github.com/lazypower/stepwise/internal/templates"
)

func sampleEntries() []store.StepEntry {
	return []store.StepEntry{
		{
			ID:           2,
			CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			CreatedAtRaw: "2026-01-02T03:04:05Z",
			TemplateID:   "boundary",
			Observation:  step.Map{"threat": 2.0, "energy": 1.0},
			Policy:       step.Withdraw,
			Notes:        []string{"a", "b"},
		},
		{
			ID:           1,
			CreatedAtRaw: "garbled",
			TemplateID:   "legacy",
			Observation:  step.Map{},
			Policy:       "delay",
		},
	}
}

func TestStepsASCII(t *testing.T) {
	out := Steps(sampleEntries(), 5, ASCII)

	for _, want := range []string{"boundary", "withdraw", "energy=1 threat=2", "2026-01-02 03:04:05", "garbled", "delay (unknown)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	// StyleLight upper-cases headers and footers.
	for _, want := range []string{"ID", "2 SHOWN", "5 TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "───") {
		t.Errorf("expected box-drawing characters in ASCII output:\n%s", out)
	}
}

func TestStepsMarkdown(t *testing.T) {
	out := Steps(sampleEntries(), 2, Markdown)

	if !strings.Contains(out, "| ID") {
		t.Errorf("expected markdown header with '| ID':\n%s", out)
	}
	if !strings.Contains(out, "---") {
		t.Errorf("expected markdown separator:\n%s", out)
	}
}

func TestStep(t *testing.T) {
	e := sampleEntries()[0]
	out := Step(&e, ASCII)

	for _, want := range []string{"policy", "withdraw", "threat=2", "1. a", "2. b"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestResult(t *testing.T) {
	r := &engine.Result{
		TemplateID: "boundary",
		Input:      step.Input{Observation: step.Map{"threat": 0}},
		Output: step.Output{
			Policy:               step.Comply,
			PredictedObservation: step.Map{"predictedPolicy": "comply"},
			Notes:                []string{"fallback"},
		},
	}

	out := Result(r, ASCII)
	if strings.Contains(out, "saved as") {
		t.Errorf("unsaved result shows an id:\n%s", out)
	}
	r.ID = 7
	out = Result(r, ASCII)
	if !strings.Contains(out, "saved as") || !strings.Contains(out, "1. fallback") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestTemplatesAndFields(t *testing.T) {
	reg, err := templates.Load()
	if err != nil {
		t.Fatalf("templates.Load: %v", err)
	}

	out := Templates(reg.List(), ASCII)
	if !strings.Contains(out, "threat, bodyAlarm, needClarity, energy") {
		t.Errorf("missing field list:\n%s", out)
	}

	tmpl, _ := reg.Get("boundary")
	out = Fields(tmpl, Markdown)
	if !strings.Contains(out, "needClarity") || !strings.Contains(out, "| Key") {
		t.Errorf("unexpected fields table:\n%s", out)
	}
}

func TestCompact(t *testing.T) {
	tests := []struct {
		m    step.Map
		want string
	}{
		{nil, "-"},
		{step.Map{}, "-"},
		{step.Map{"b": 1.5, "a": "x"}, "a=x b=1.5"},
		{step.Map{"n": nil, "l": []any{1.0, "y"}}, `l=[1,"y"] n=null`},
	}
	for _, tt := range tests {
		if got := Compact(tt.m); got != tt.want {
			t.Errorf("Compact(%v) = %q, want %q", tt.m, got, tt.want)
		}
	}
}

func TestTableLen(t *testing.T) {
	tb := NewTable(ASCII)
	tb.Header("a")
	tb.Row(1)
	tb.Row(2)
	if tb.Len() != 2 {
		t.Errorf("Len = %d, want 2", tb.Len())
	}
}
