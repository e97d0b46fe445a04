package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/logging"
	"github.com/lazypower/stepwise/internal/metrics"
	"github.com/lazypower/stepwise/internal/step"
)

// StepRecord is what the caller hands to AppendStep: the inputs and outputs
// of one engine evaluation.
type StepRecord struct {
	TemplateID           string
	HiddenState          step.Map
	Observation          step.Map
	Policy               step.Policy
	PredictedObservation step.Map
	Notes                []string
}

// NewStepRecord builds the record for one evaluation.
func NewStepRecord(templateID string, in step.Input, out step.Output) StepRecord {
	return StepRecord{
		TemplateID:           templateID,
		HiddenState:          in.HiddenState,
		Observation:          in.Observation,
		Policy:               out.Policy,
		PredictedObservation: out.PredictedObservation,
		Notes:                out.Notes,
	}
}

// StepEntry is one persisted step. Entries are never updated or deleted.
// Structured fields decode through step.Map, so integers come back exact.
type StepEntry struct {
	ID                   int64       `json:"id"`
	CreatedAt            time.Time   `json:"createdAt"` // zero if CreatedAtRaw does not parse
	CreatedAtRaw         string      `json:"createdAtRaw"`
	TemplateID           string      `json:"templateId"`
	HiddenState          step.Map    `json:"hiddenState"`
	Observation          step.Map    `json:"observation"`
	Policy               step.Policy `json:"policy"` // may be outside step.Policies for old entries
	PredictedObservation step.Map    `json:"predictedObservation"`
	Notes                []string    `json:"notes"`
}

// StepFilter restricts ListRecent and CountSteps. Empty fields don't filter.
type StepFilter struct {
	Template string
	Policy   step.Policy
}

const stepColumns = `id, created_at, template_id, hidden_state_json, observation_json,
	policy_id, predicted_observation_json, notes_json`

func logger() *slog.Logger { return logging.New("store") }

// AppendStep writes one immutable entry and returns its id. created_at is
// stamped here in UTC, never taken from the caller.
func (db *DB) AppendStep(rec StepRecord) (int64, error) {
	hidden, err := encodeJSON(mapOrEmpty(rec.HiddenState))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeValidation, "encode hidden state", err)
	}
	obs, err := encodeJSON(mapOrEmpty(rec.Observation))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeValidation, "encode observation", err)
	}
	pred, err := encodeJSON(mapOrEmpty(rec.PredictedObservation))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeValidation, "encode predicted observation", err)
	}
	notes := rec.Notes
	if notes == nil {
		notes = []string{}
	}
	notesJSON, err := encodeJSON(notes)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeValidation, "encode notes", err)
	}

	// Tolerate a handle whose schema was never set up (or was dropped).
	if err := db.Init(); err != nil {
		return 0, err
	}

	createdAt := db.now().UTC().Format(time.RFC3339Nano)
	result, err := db.Exec(`
		INSERT INTO steps (created_at, template_id, hidden_state_json, observation_json,
			policy_id, predicted_observation_json, notes_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, createdAt, rec.TemplateID, hidden, obs, string(rec.Policy), pred, notesJSON)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("append").Inc()
		return 0, storageErr("append step", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("append").Inc()
		return 0, storageErr("append step: last insert id", err)
	}
	return id, nil
}

// ListRecent returns up to limit entries, newest first. Filters are applied
// in the query so limit bounds the filtered set. A negative limit is a
// validation error; zero returns no entries.
func (db *DB) ListRecent(limit int, f StepFilter) ([]StepEntry, error) {
	if limit < 0 {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("limit must be non-negative, got %d", limit)).
			WithMetadata(map[string]string{"limit": "must be a non-negative integer"})
	}

	where, args := f.clause()
	args = append(args, limit)
	rows, err := db.Query(`SELECT `+stepColumns+` FROM steps`+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list").Inc()
		return nil, storageErr("list steps", err)
	}
	defer rows.Close()

	entries := []StepEntry{}
	for rows.Next() {
		e, err := scanStep(rows)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("list").Inc()
			return nil, storageErr("scan step", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		metrics.StoreErrors.WithLabelValues("list").Inc()
		return nil, storageErr("list steps", err)
	}
	return entries, nil
}

// GetStep returns the entry with the given id, or nil if there is none.
func (db *DB) GetStep(id int64) (*StepEntry, error) {
	row := db.QueryRow(`SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	e, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return nil, storageErr("get step", err)
	}
	return &e, nil
}

// CountSteps returns the number of entries matching f.
func (db *DB) CountSteps(f StepFilter) (int, error) {
	where, args := f.clause()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM steps`+where, args...).Scan(&count); err != nil {
		metrics.StoreErrors.WithLabelValues("count").Inc()
		return 0, storageErr("count steps", err)
	}
	return count, nil
}

func (f StepFilter) clause() (string, []any) {
	var conds []string
	var args []any
	if f.Template != "" {
		conds = append(conds, "template_id = ?")
		args = append(args, f.Template)
	}
	if f.Policy != "" {
		conds = append(conds, "policy_id = ?")
		args = append(args, string(f.Policy))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanStep reads one row. Malformed JSON in a structured column degrades to
// an empty value and the row is still returned.
func scanStep(r rowScanner) (StepEntry, error) {
	var (
		e                        StepEntry
		policy                   string
		hidden, obs, pred, notes string
	)
	if err := r.Scan(&e.ID, &e.CreatedAtRaw, &e.TemplateID, &hidden, &obs, &policy, &pred, &notes); err != nil {
		return StepEntry{}, err
	}

	e.Policy = step.Policy(policy)
	if t, err := time.Parse(time.RFC3339Nano, e.CreatedAtRaw); err == nil {
		e.CreatedAt = t.UTC()
	}
	e.HiddenState = decodeMap(e.ID, "hidden_state_json", hidden)
	e.Observation = decodeMap(e.ID, "observation_json", obs)
	e.PredictedObservation = decodeMap(e.ID, "predicted_observation_json", pred)
	e.Notes = decodeNotes(e.ID, notes)
	return e, nil
}

func decodeMap(id int64, column, raw string) step.Map {
	var m step.Map
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		logger().Warn("malformed step column, using empty object", "id", id, "column", column, "err", err)
		return step.Map{}
	}
	return m
}

func decodeNotes(id int64, raw string) []string {
	var notes []string
	if err := json.Unmarshal([]byte(raw), &notes); err != nil || notes == nil {
		logger().Warn("malformed step column, using empty list", "id", id, "column", "notes_json", "err", err)
		return []string{}
	}
	return notes
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func mapOrEmpty(m step.Map) step.Map {
	if m == nil {
		return step.Map{}
	}
	return m
}

func storageErr(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorage, op, err)
}
