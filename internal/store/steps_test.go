package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/step"
)

func boundaryRecord(policy step.Policy) StepRecord {
	return StepRecord{
		TemplateID:  "boundary",
		HiddenState: step.Map{"energy": 1},
		Observation: step.Map{"threat": 2, "bodyAlarm": 0, "needClarity": 3, "energy": 1},
		Policy:      policy,
		PredictedObservation: step.Map{
			"predictedPolicy":    string(policy),
			"predictedThreat":    1,
			"predictedBodyAlarm": 0,
		},
		Notes: []string{"note1", "note2"},
	}
}

func mustAppend(t *testing.T, db *DB, rec StepRecord) int64 {
	t.Helper()
	id, err := db.AppendStep(rec)
	if err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	return id
}

func TestAppendThenGetRoundTrip(t *testing.T) {
	db := testDB(t)

	rec := StepRecord{
		TemplateID:  "boundary",
		HiddenState: step.Map{"energy": 1, "note": "tired", "flags": []any{true, false, nil}},
		Observation: step.Map{
			"threat":  2,
			"nested":  map[string]any{"a": []any{1.5, "x"}, "b": nil},
			"unicode": "脅威 <&>",
		},
		Policy:               step.Withdraw,
		PredictedObservation: step.Map{"predictedPolicy": "withdraw", "predictedThreat": 1},
		Notes:                []string{"first", "second"},
	}

	id := mustAppend(t, db, rec)

	got, err := db.GetStep(id)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if got == nil {
		t.Fatal("GetStep returned nil for an appended id")
	}

	if got.ID != id {
		t.Errorf("ID = %d, want %d", got.ID, id)
	}
	if got.TemplateID != rec.TemplateID {
		t.Errorf("TemplateID = %q, want %q", got.TemplateID, rec.TemplateID)
	}
	if got.Policy != rec.Policy {
		t.Errorf("Policy = %q, want %q", got.Policy, rec.Policy)
	}
	if diff := cmp.Diff(rec.HiddenState, got.HiddenState); diff != "" {
		t.Errorf("HiddenState mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rec.Observation, got.Observation); diff != "" {
		t.Errorf("Observation mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rec.PredictedObservation, got.PredictedObservation); diff != "" {
		t.Errorf("PredictedObservation mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rec.Notes, got.Notes); diff != "" {
		t.Errorf("Notes mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendKeepsLargeIntegersExact(t *testing.T) {
	db := testDB(t)

	const beyondFloat = 9007199254740993 // 2^53 + 1
	rec := boundaryRecord(step.Withdraw)
	rec.HiddenState = step.Map{
		"big":    beyondFloat,
		"big64":  int64(beyondFloat),
		"max":    int64(1<<63 - 1),
		"min":    int64(-1 << 63),
		"ratio":  0.1,
		"nested": map[string]any{"ids": []any{beyondFloat, 1}},
	}

	id := mustAppend(t, db, rec)
	got, err := db.GetStep(id)
	if err != nil || got == nil {
		t.Fatalf("GetStep: %v, %v", got, err)
	}

	want := step.Map{
		"big":    beyondFloat,
		"big64":  beyondFloat,
		"max":    1<<63 - 1,
		"min":    -1 << 63,
		"ratio":  0.1,
		"nested": map[string]any{"ids": []any{beyondFloat, 1}},
	}
	if diff := cmp.Diff(want, got.HiddenState); diff != "" {
		t.Errorf("HiddenState mismatch (-want +got):\n%s", diff)
	}

	listed, err := db.ListRecent(1, StepFilter{})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if listed[0].HiddenState["big"] != beyondFloat {
		t.Errorf("listed big = %v (%T)", listed[0].HiddenState["big"], listed[0].HiddenState["big"])
	}
}

func TestAppendStampsCreatedAtUTC(t *testing.T) {
	db := testDB(t)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 890, time.FixedZone("JST", 9*60*60))
	db.now = func() time.Time { return fixed }

	id := mustAppend(t, db, boundaryRecord(step.Withdraw))
	got, err := db.GetStep(id)
	if err != nil || got == nil {
		t.Fatalf("GetStep: %v, %v", got, err)
	}

	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, fixed)
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", got.CreatedAt.Location())
	}
	if got.CreatedAtRaw != "2026-03-03T20:06:07.00000089Z" {
		t.Errorf("CreatedAtRaw = %q", got.CreatedAtRaw)
	}
}

func TestAppendNilFieldsStoredEmpty(t *testing.T) {
	db := testDB(t)

	id := mustAppend(t, db, StepRecord{TemplateID: "bare", Policy: step.Comply})
	got, err := db.GetStep(id)
	if err != nil || got == nil {
		t.Fatalf("GetStep: %v, %v", got, err)
	}
	if got.HiddenState == nil || len(got.HiddenState) != 0 {
		t.Errorf("HiddenState = %#v, want empty map", got.HiddenState)
	}
	if got.Notes == nil || len(got.Notes) != 0 {
		t.Errorf("Notes = %#v, want empty slice", got.Notes)
	}
}

func TestAppendUnencodableValue(t *testing.T) {
	db := testDB(t)

	rec := boundaryRecord(step.Withdraw)
	rec.Observation = step.Map{"ch": make(chan int)}

	_, err := db.AppendStep(rec)
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	count, _ := db.CountSteps(StepFilter{})
	if count != 0 {
		t.Errorf("count = %d after failed append, want 0", count)
	}
}

func TestAppendReinitializesDroppedSchema(t *testing.T) {
	db := testDB(t)

	if _, err := db.Exec("DROP TABLE steps"); err != nil {
		t.Fatalf("drop steps: %v", err)
	}
	if _, err := db.Exec("DELETE FROM schema_versions"); err != nil {
		t.Fatalf("clear schema_versions: %v", err)
	}

	if _, err := db.AppendStep(boundaryRecord(step.Withdraw)); err != nil {
		t.Fatalf("AppendStep on uninitialized store: %v", err)
	}
}

func TestAppendOnClosedDB(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	db.Close()

	_, err = db.AppendStep(boundaryRecord(step.Withdraw))
	if !apperrors.IsCode(err, apperrors.CodeStorage) {
		t.Fatalf("err = %v, want storage error", err)
	}
}

func TestIDsStrictlyIncrease(t *testing.T) {
	db := testDB(t)

	var last int64
	for i := 0; i < 5; i++ {
		id := mustAppend(t, db, boundaryRecord(step.Comply))
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestListRecentJustAppended(t *testing.T) {
	db := testDB(t)

	rec := boundaryRecord(step.Withdraw)
	id := mustAppend(t, db, rec)

	entries, err := db.ListRecent(1, StepFilter{})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != id || e.TemplateID != "boundary" || e.Policy != step.Withdraw {
		t.Errorf("entry = %+v", e)
	}
	if diff := cmp.Diff(rec.Notes, e.Notes); diff != "" {
		t.Errorf("Notes mismatch (-want +got):\n%s", diff)
	}
}

func TestListRecentOrderAndLimit(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 7; i++ {
		mustAppend(t, db, boundaryRecord(step.Comply))
	}

	for _, limit := range []int{0, 1, 3, 7, 20} {
		entries, err := db.ListRecent(limit, StepFilter{})
		if err != nil {
			t.Fatalf("ListRecent(%d): %v", limit, err)
		}
		want := min(limit, 7)
		if len(entries) != want {
			t.Errorf("ListRecent(%d) returned %d entries, want %d", limit, len(entries), want)
		}
		for i := 1; i < len(entries); i++ {
			if entries[i].ID >= entries[i-1].ID {
				t.Errorf("ListRecent(%d): ids not strictly decreasing: %d then %d",
					limit, entries[i-1].ID, entries[i].ID)
			}
		}
	}
}

func TestListRecentZeroLimitIsEmptyNotNil(t *testing.T) {
	db := testDB(t)
	mustAppend(t, db, boundaryRecord(step.Comply))

	entries, err := db.ListRecent(0, StepFilter{})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %#v, want empty non-nil slice", entries)
	}
}

func TestListRecentNegativeLimit(t *testing.T) {
	db := testDB(t)

	_, err := db.ListRecent(-1, StepFilter{})
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestListRecentFilters(t *testing.T) {
	db := testDB(t)

	type seed struct {
		template string
		policy   step.Policy
	}
	seeds := []seed{
		{"boundary", step.Withdraw},
		{"boundary", step.Assert},
		{"other", step.Withdraw},
		{"boundary", step.Withdraw},
		{"other", step.Comply},
		{"boundary", step.Comply},
	}
	for _, s := range seeds {
		rec := boundaryRecord(s.policy)
		rec.TemplateID = s.template
		mustAppend(t, db, rec)
	}

	tests := []struct {
		name   string
		filter StepFilter
		want   int
	}{
		{"none", StepFilter{}, 6},
		{"template", StepFilter{Template: "boundary"}, 4},
		{"policy", StepFilter{Policy: step.Withdraw}, 3},
		{"both", StepFilter{Template: "boundary", Policy: step.Withdraw}, 2},
		{"no match", StepFilter{Template: "missing"}, 0},
		{"unknown policy", StepFilter{Policy: "delay"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := db.ListRecent(100, tt.filter)
			if err != nil {
				t.Fatalf("ListRecent: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("got %d entries, want %d", len(entries), tt.want)
			}
			for _, e := range entries {
				if tt.filter.Template != "" && e.TemplateID != tt.filter.Template {
					t.Errorf("entry %d has template %q", e.ID, e.TemplateID)
				}
				if tt.filter.Policy != "" && e.Policy != tt.filter.Policy {
					t.Errorf("entry %d has policy %q", e.ID, e.Policy)
				}
			}

			count, err := db.CountSteps(tt.filter)
			if err != nil {
				t.Fatalf("CountSteps: %v", err)
			}
			if count != tt.want {
				t.Errorf("CountSteps = %d, want %d", count, tt.want)
			}
		})
	}
}

// The limit must apply after filtering: with the matching rows buried under
// newer non-matching rows, a post-fetch filter would return nothing.
func TestListRecentLimitBoundsFilteredSet(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 3; i++ {
		mustAppend(t, db, boundaryRecord(step.Withdraw))
	}
	for i := 0; i < 10; i++ {
		rec := boundaryRecord(step.Comply)
		rec.TemplateID = "other"
		mustAppend(t, db, rec)
	}

	entries, err := db.ListRecent(2, StepFilter{Template: "boundary", Policy: step.Withdraw})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestGetStepNotFound(t *testing.T) {
	db := testDB(t)

	got, err := db.GetStep(999999)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if got != nil {
		t.Errorf("GetStep(999999) = %+v, want nil", got)
	}
}

func TestMalformedJSONDegrades(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO steps (created_at, template_id, hidden_state_json, observation_json,
			policy_id, predicted_observation_json, notes_json)
		VALUES ('not a time', 'legacy', '{broken', '[1,2]', 'delay', 'null', '{"not":"a list"}')
	`)
	if err != nil {
		t.Fatalf("insert malformed row: %v", err)
	}
	good := mustAppend(t, db, boundaryRecord(step.Assert))

	entries, err := db.ListRecent(10, StepFilter{})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != good {
		t.Errorf("first entry id = %d, want %d", entries[0].ID, good)
	}

	bad := entries[1]
	if bad.Policy != "delay" || bad.Policy.Known() {
		t.Errorf("Policy = %q, want unknown policy kept verbatim", bad.Policy)
	}
	if !bad.CreatedAt.IsZero() || bad.CreatedAtRaw != "not a time" {
		t.Errorf("CreatedAt = %v raw %q", bad.CreatedAt, bad.CreatedAtRaw)
	}
	for name, m := range map[string]step.Map{
		"HiddenState":          bad.HiddenState,
		"Observation":          bad.Observation,
		"PredictedObservation": bad.PredictedObservation,
	} {
		if m == nil || len(m) != 0 {
			t.Errorf("%s = %#v, want empty map", name, m)
		}
	}
	if bad.Notes == nil || len(bad.Notes) != 0 {
		t.Errorf("Notes = %#v, want empty slice", bad.Notes)
	}

	byID, err := db.GetStep(bad.ID)
	if err != nil || byID == nil {
		t.Fatalf("GetStep(malformed): %v, %v", byID, err)
	}
	if len(byID.HiddenState) != 0 || len(byID.Notes) != 0 {
		t.Errorf("GetStep did not degrade malformed fields: %+v", byID)
	}
}

func TestStepsAreAppendOnly(t *testing.T) {
	db := testDB(t)
	id := mustAppend(t, db, boundaryRecord(step.Withdraw))

	if _, err := db.Exec("UPDATE steps SET policy_id = 'comply' WHERE id = ?", id); err == nil {
		t.Error("expected UPDATE to be rejected")
	}
	if _, err := db.Exec("DELETE FROM steps WHERE id = ?", id); err == nil {
		t.Error("expected DELETE to be rejected")
	}

	got, err := db.GetStep(id)
	if err != nil || got == nil {
		t.Fatalf("GetStep: %v, %v", got, err)
	}
	if got.Policy != step.Withdraw {
		t.Errorf("Policy = %q after rejected update, want withdraw", got.Policy)
	}
}

func TestConcurrentAppends(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "steps.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := db.AppendStep(boundaryRecord(step.Comply)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append: %v", err)
	}

	count, err := db.CountSteps(StepFilter{})
	if err != nil {
		t.Fatalf("CountSteps: %v", err)
	}
	if count != writers*perWriter {
		t.Errorf("count = %d, want %d", count, writers*perWriter)
	}

	entries, err := db.ListRecent(writers*perWriter, StepFilter{})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	seen := map[int64]bool{}
	for _, e := range entries {
		if seen[e.ID] {
			t.Errorf("duplicate id %d", e.ID)
		}
		seen[e.ID] = true
	}
}
