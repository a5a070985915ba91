package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"apex-live/work/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func portalSource(id string) types.Source {
	return types.Source{
		ID:         id,
		Kind:       types.SourceKindPortal,
		Name:       "Test Portal",
		Portal:     "http://portal.example.com",
		MAC:        "00:1A:79:00:00:01",
		StbLang:    "en",
		Timezone:   "Europe/London",
		RefreshSec: 3600,
		Enabled:    true,
	}
}

func TestSaveAndLoadSources(t *testing.T) {
	s := openTestStore(t)

	p := portalSource("p1")
	p.IncludeRegex = "(?i)sport"
	if err := s.SaveSource(p); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSource(types.Source{
		ID: "m1", Kind: types.SourceKindM3U, URL: "http://e/list.m3u", RefreshSec: 900,
	}); err != nil {
		t.Fatal(err)
	}

	sources, err := s.LoadSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("loaded %d sources, want 2", len(sources))
	}

	got, err := s.GetSource("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != types.SourceKindPortal || got.Portal != "http://portal.example.com" || got.MAC != "00:1A:79:00:00:01" {
		t.Errorf("portal fields wrong: %+v", got)
	}
	if !got.Enabled || got.IncludeRegex != "(?i)sport" {
		t.Errorf("enabled/filter wrong: %+v", got)
	}
}

func TestSaveSourceUpsert(t *testing.T) {
	s := openTestStore(t)

	p := portalSource("p1")
	if err := s.SaveSource(p); err != nil {
		t.Fatal(err)
	}
	p.Name = "Renamed"
	p.Enabled = false
	if err := s.SaveSource(p); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSource("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" || got.Enabled {
		t.Errorf("upsert did not update: %+v", got)
	}

	sources, _ := s.LoadSources()
	if len(sources) != 1 {
		t.Errorf("upsert grew the table: %d rows", len(sources))
	}
}

func TestDeleteSource(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSource(portalSource("p1")); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteSource("p1")
	if err != nil || !deleted {
		t.Fatalf("DeleteSource = %v, %v", deleted, err)
	}
	if _, err := s.GetSource("p1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSource after delete = %v, want ErrNoRows", err)
	}

	deleted, err = s.DeleteSource("p1")
	if err != nil || deleted {
		t.Errorf("second delete = %v, %v, want false, nil", deleted, err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.SaveSource(portalSource("p1")); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	// reopening must not reapply migrations or lose data
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetSource("p1"); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}
