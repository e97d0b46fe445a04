package engine

import (
	"fmt"

	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/metrics"
	"github.com/lazypower/stepwise/internal/step"
	"github.com/lazypower/stepwise/internal/store"
	"github.com/lazypower/stepwise/internal/templates"
)

// Engine runs template submissions through Evaluate and the step log.
type Engine struct {
	DB        *store.DB
	Templates *templates.Registry
}

// New creates a new Engine.
func New(db *store.DB, reg *templates.Registry) *Engine {
	return &Engine{DB: db, Templates: reg}
}

// Result is one evaluated submission. ID is 0 unless the step was saved.
type Result struct {
	TemplateID string      `json:"templateId"`
	Input      step.Input  `json:"input"`
	Output     step.Output `json:"output"`
	ID         int64       `json:"id,omitempty"`
}

// Run parses raw form values with the named template, evaluates them and,
// when save is set, appends the step to the log.
func (e *Engine) Run(templateID string, raw map[string]string, save bool) (*Result, error) {
	tmpl, err := e.Templates.Get(templateID)
	if err != nil {
		return nil, err
	}

	in, err := tmpl.Parse(raw)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(tmpl.ID).Inc()
		return nil, err
	}

	out := Evaluate(in)
	metrics.StepsEvaluated.WithLabelValues(tmpl.ID, string(out.Policy)).Inc()

	res := &Result{TemplateID: tmpl.ID, Input: in, Output: out}
	if !save {
		return res, nil
	}

	id, err := e.DB.AppendStep(store.NewStepRecord(tmpl.ID, in, out))
	if err != nil {
		return nil, fmt.Errorf("save step: %w", err)
	}
	metrics.StepsSaved.WithLabelValues(tmpl.ID).Inc()
	res.ID = id
	return res, nil
}

// Form re-derives the raw form values of a logged step.
func (e *Engine) Form(id int64) (string, map[string]string, error) {
	entry, err := e.DB.GetStep(id)
	if err != nil {
		return "", nil, err
	}
	if entry == nil {
		return "", nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("step %d not found", id))
	}

	tmpl, err := e.Templates.Get(entry.TemplateID)
	if err != nil {
		return "", nil, err
	}
	return tmpl.ID, tmpl.FormValues(entry.Observation), nil
}

// Resubmit runs a logged step's form values again and saves the new step.
// The original entry is left untouched.
func (e *Engine) Resubmit(id int64) (*Result, error) {
	templateID, raw, err := e.Form(id)
	if err != nil {
		return nil, err
	}
	return e.Run(templateID, raw, true)
}
