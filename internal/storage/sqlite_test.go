package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_query_log_created", "idx_query_log_outcome"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestSaveAndGetQuery(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	in := QueryRecord{
		ID:        "q-1",
		CreatedAt: created,
		Transport: "sync",
		TopK:      3,
		LatencyMs: 812,
		Outcome:   OutcomeSuccess,
		RequestID: "req-9",
		Contexts:  2,
	}
	if err := s.SaveQuery(in); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	got, err := s.GetQuery("q-1")
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	got.CreatedAt = in.CreatedAt
	if got != in {
		t.Errorf("GetQuery = %+v, want %+v", got, in)
	}
}

func TestGetQuery_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetQuery("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveQuery_RequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveQuery(QueryRecord{Outcome: OutcomeSuccess}); err == nil {
		t.Error("SaveQuery without id succeeded")
	}
}

func TestRecentQueries_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.SaveQuery(QueryRecord{
			ID:        fmt.Sprintf("q-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			Transport: "sync",
			Outcome:   OutcomeSuccess,
		})
		if err != nil {
			t.Fatalf("SaveQuery %d: %v", i, err)
		}
	}

	got, err := s.RecentQueries(3)
	if err != nil {
		t.Fatalf("RecentQueries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"q-4", "q-3", "q-2"}
	for i, q := range got {
		if q.ID != want[i] {
			t.Errorf("got[%d].ID = %q, want %q", i, q.ID, want[i])
		}
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats on empty log: %v", err)
	}
	if st.Total != 0 || st.Failures != 0 || st.AvgLatencyMs != 0 || !st.LastAt.IsZero() {
		t.Errorf("empty stats = %+v", st)
	}

	last := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	records := []QueryRecord{
		{ID: "a", CreatedAt: last.Add(-2 * time.Minute), Transport: "sync", LatencyMs: 100, Outcome: OutcomeSuccess},
		{ID: "b", CreatedAt: last.Add(-time.Minute), Transport: "sync", LatencyMs: 300, Outcome: OutcomeSuccess},
		{ID: "c", CreatedAt: last, Transport: "job", LatencyMs: 30000, Outcome: OutcomeError, ErrorKind: "timeout"},
	}
	for _, r := range records {
		if err := s.SaveQuery(r); err != nil {
			t.Fatalf("SaveQuery: %v", err)
		}
	}

	st, err = s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3", st.Total)
	}
	if st.Failures != 1 {
		t.Errorf("Failures = %d, want 1", st.Failures)
	}
	if st.AvgLatencyMs != 200 {
		t.Errorf("AvgLatencyMs = %v, want 200", st.AvgLatencyMs)
	}
	if !st.LastAt.Equal(last) {
		t.Errorf("LastAt = %v, want %v", st.LastAt, last)
	}
}

func TestPurgeQueries(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	s.SaveQuery(QueryRecord{ID: "old", CreatedAt: now.Add(-48 * time.Hour), Transport: "sync", Outcome: OutcomeSuccess})
	s.SaveQuery(QueryRecord{ID: "new", CreatedAt: now, Transport: "sync", Outcome: OutcomeSuccess})

	n, err := s.PurgeQueries(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeQueries: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := s.GetQuery("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old record still present: %v", err)
	}
	if _, err := s.GetQuery("new"); err != nil {
		t.Errorf("new record missing: %v", err)
	}
}
