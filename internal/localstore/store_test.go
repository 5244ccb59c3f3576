package localstore

import (
	"path/filepath"
	"reflect"
	"testing"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "local.db")
}

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := testDBPath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") should fail")
	}
}

func TestSQLite_GetMissing(t *testing.T) {
	s := openTestStore(t)

	v, ok, err := s.Get("categories")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok || v != "" {
		t.Errorf("Get(missing) = %q, %v; want \"\", false", v, ok)
	}
}

func TestSQLite_SetGetOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("lastUpdate", "2024-01-01T00:00:00.000Z"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set("lastUpdate", "2024-01-02T00:00:00.000Z"); err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}

	v, ok, err := s.Get("lastUpdate")
	if err != nil || !ok {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}
	if v != "2024-01-02T00:00:00.000Z" {
		t.Errorf("Get() = %q, want the overwritten value", v)
	}
}

func TestSQLite_SetAllAndKeys(t *testing.T) {
	s := openTestStore(t)

	err := s.SetAll(map[string]string{
		"categories": "[]",
		"lastUpdate": "2024-01-01T00:00:00.000Z",
	})
	if err != nil {
		t.Fatalf("SetAll() failed: %v", err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if want := []string{"categories", "lastUpdate"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}

	if err := s.Delete("categories"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete("categories"); err != nil {
		t.Errorf("Delete() should be idempotent: %v", err)
	}
	if _, ok, _ := s.Get("categories"); ok {
		t.Error("deleted key still present")
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := testDBPath(t)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Set("categories", `[{"id":"inbox"}]`); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get("categories")
	if err != nil || !ok || v != `[{"id":"inbox"}]` {
		t.Errorf("Get() after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if v, ok, _ := s.Get("k"); !ok || v != "v" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()

	if _, ok, _ := m.Get("a"); ok {
		t.Error("empty store reported a value")
	}
	if err := SetAll(m, map[string]string{"b": "2", "a": "1"}); err != nil {
		t.Fatalf("SetAll() failed: %v", err)
	}
	keys, _ := m.Keys()
	if want := []string{"a", "b"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

// setOnly hides BatchSetter so SetAll falls back to Set.
type setOnly struct {
	Store
	calls []string
}

func (s *setOnly) Set(key, value string) error {
	s.calls = append(s.calls, key)
	return s.Store.Set(key, value)
}

func TestSetAll_Fallback(t *testing.T) {
	s := &setOnly{Store: NewMemory()}
	if err := SetAll(s, map[string]string{"z": "1", "a": "2"}); err != nil {
		t.Fatalf("SetAll() failed: %v", err)
	}
	if want := []string{"a", "z"}; !reflect.DeepEqual(s.calls, want) {
		t.Errorf("Set calls = %v, want %v", s.calls, want)
	}
}
