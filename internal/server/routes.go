package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/step"
	"github.com/lazypower/stepwise/internal/store"
)

const maxBodyBytes = 64 << 10

// SubmitRequest is the JSON body for evaluate and step submission. Values
// may be strings or numbers; they are validated as form input.
type SubmitRequest struct {
	Values map[string]any `json:"values"`
}

// StepList is the body of GET /api/steps.
type StepList struct {
	Steps []store.StepEntry `json:"steps"`
	Count int               `json:"count"`
	Total int               `json:"total"`
	Limit int               `json:"limit"`
}

// FormResponse is the body of GET /api/steps/{stepID}/form.
type FormResponse struct {
	StepID     int64             `json:"stepId"`
	TemplateID string            `json:"templateId"`
	Values     map[string]string `json:"values"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.engine.Templates.List()})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.engine.Templates.Get(chi.URLParam(r, "templateID"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template": tmpl,
		"defaults": tmpl.Defaults(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, false)
}

func (s *Server) handleSubmitStep(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, true)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, save bool) {
	raw, err := readValues(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	res, err := s.engine.Run(chi.URLParam(r, "templateID"), raw, save)
	if err != nil {
		s.writeError(w, r, err, raw)
		return
	}

	status := http.StatusOK
	if save {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := s.limits.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "limit must be an integer").
				WithMetadata(map[string]string{"limit": "must be an integer"}), nil)
			return
		}
		limit = n
	}
	if s.limits.MaxLimit > 0 && limit > s.limits.MaxLimit {
		limit = s.limits.MaxLimit
	}

	f := store.StepFilter{
		Template: strings.TrimSpace(q.Get("template")),
		Policy:   step.Policy(strings.TrimSpace(q.Get("policy"))),
	}

	entries, err := s.db.ListRecent(limit, f)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	total, err := s.db.CountSteps(f)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, StepList{
		Steps: entries,
		Count: len(entries),
		Total: total,
		Limit: limit,
	})
}

func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	id, err := stepID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	entry, err := s.db.GetStep(id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if entry == nil {
		s.writeError(w, r, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("step %d not found", id)), nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleStepForm(w http.ResponseWriter, r *http.Request) {
	id, err := stepID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	templateID, values, err := s.engine.Form(id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, FormResponse{StepID: id, TemplateID: templateID, Values: values})
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	id, err := stepID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	res, err := s.engine.Resubmit(id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ErrorResponse is the body of every non-2xx API response. Fields and Input
// are set for validation failures so a form can be redisplayed.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   apperrors.Code    `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
	Input  map[string]string `json:"input,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, input map[string]string) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if code == apperrors.CodeValidation {
		resp.Fields = apperrors.GetMetadata(err)
		resp.Input = input
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "code", code, "err", err)
	}
	writeJSON(w, status, resp)
}

func stepID(r *http.Request) (int64, error) {
	v := chi.URLParam(r, "stepID")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid step id %q", v)).
			WithMetadata(map[string]string{"stepID": "must be a positive integer"})
	}
	return id, nil
}

// readValues accepts either a JSON SubmitRequest or an urlencoded form.
// An empty body means all defaults.
func readValues(r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid form body", err)
		}
		raw := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			raw[k] = r.PostForm.Get(k)
		}
		return raw, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "read body failed", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]string{}, nil
	}

	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid json", err)
	}
	raw := make(map[string]string, len(req.Values))
	for k, v := range req.Values {
		raw[k] = formValue(v)
	}
	return raw, nil
}

func formValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
