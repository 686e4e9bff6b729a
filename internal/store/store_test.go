package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"patina/internal/analysis"
	"patina/pkg/geometry"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "patina.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	zone := geometry.NewRect(0.1, 0.2, 0.5, 0.4)
	h := geometry.Homography{1, 0, 3, 0, 1, -2, 0, 0, 1}
	res := &analysis.Result{
		State:            analysis.StateCompleted,
		MatchedZone:      &zone,
		DegradationScore: 0.12,
		ColorDifference:  3.4,
		ColorComputed:    true,
		Homography:       &h,
		Stats:            analysis.Stats{AcceptedMatches: 40, Inliers: 35},
		Transitions:      []analysis.State{analysis.StatePending, analysis.StateAligning, analysis.StateAligned, analysis.StateScoring, analysis.StateCompleted},
	}
	rec := NewRecord("", "a.png", "b.png", res)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != analysis.StateCompleted || got.OriginSource != "a.png" || got.ComparedSource != "b.png" {
		t.Errorf("unexpected record %+v", got)
	}
	if got.MatchedZone == nil || *got.MatchedZone != zone {
		t.Errorf("zone = %v", got.MatchedZone)
	}
	if got.Result == nil || got.Result.Stats.Inliers != 35 || *got.Result.Homography != h {
		t.Errorf("result payload lost: %+v", got.Result)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestFailedRecordHasNoZone(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rec := NewRecord("", "a.png", "b.png", &analysis.Result{
		State:            analysis.StateAlignmentFailed,
		DegradationScore: 1,
		FailureReason:    "alignment: insufficient matches",
	})
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MatchedZone != nil || got.ColorComputed || got.FailureReason == "" {
		t.Errorf("unexpected failed record %+v", got)
	}
}

func TestNewRecordID(t *testing.T) {
	res := &analysis.Result{State: analysis.StateCompleted}
	if rec := NewRecord("run-7", "a.png", "b.png", res); rec.ID != "run-7" {
		t.Errorf("ID = %q, want the caller's id", rec.ID)
	}
	a, b := NewRecord("", "a.png", "b.png", res), NewRecord("", "a.png", "b.png", res)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("generated ids %q and %q must be distinct and non-empty", a.ID, b.ID)
	}
}

func TestGetUnknown(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		rec := NewRecord("", name, name, &analysis.Result{State: analysis.StateCompleted})
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].OriginSource != "third" || all[2].OriginSource != "first" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].Result != nil {
		t.Error("List should not load result payloads")
	}

	two, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 {
		t.Errorf("limit ignored: got %d", len(two))
	}
}

func TestSaveRequiresID(t *testing.T) {
	s := openTemp(t)
	if err := s.Save(context.Background(), Record{}); err == nil {
		t.Error("expected an error for a record without id")
	}
}
