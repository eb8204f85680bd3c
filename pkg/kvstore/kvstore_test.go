package kvstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("pin", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get("pin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte(`{"v":2}`)) {
		t.Errorf("Get() = %q, want %q", got, `{"v":2}`)
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("pin", []byte("old")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put("pin", []byte("new")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get("pin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get() = %q, want %q", got, "new")
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("pin", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete("pin"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("pin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}

	// Deleting again is not an error.
	if err := s.Delete("pin"); err != nil {
		t.Errorf("Delete() of missing record error = %v", err)
	}
}

func TestListPrefix(t *testing.T) {
	s := openTestStore(t)

	entries := map[string][]byte{
		"captoken/vault_export": []byte("a"),
		"captoken/vault_delete": []byte("b"),
		"pin":                   []byte("c"),
	}
	for name, value := range entries {
		if err := s.Put(name, value); err != nil {
			t.Fatalf("Put(%q) error = %v", name, err)
		}
	}

	names, err := s.ListPrefix("captoken/")
	if err != nil {
		t.Fatalf("ListPrefix() error = %v", err)
	}
	want := []string{"captoken/vault_delete", "captoken/vault_export"}
	if len(names) != len(want) {
		t.Fatalf("ListPrefix() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListPrefix()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDeletePrefix(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"captoken/a", "captoken/b", "pin"} {
		if err := s.Put(name, []byte("v")); err != nil {
			t.Fatalf("Put(%q) error = %v", name, err)
		}
	}

	n, err := s.DeletePrefix("captoken/")
	if err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeletePrefix() = %d, want 2", n)
	}

	if _, err := s.Get("pin"); err != nil {
		t.Errorf("unrelated record removed: %v", err)
	}
}

func TestDeletePrefixEscapesWildcards(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"cap_token/a", "capXtoken/b", "cap%token/c"} {
		if err := s.Put(name, []byte("v")); err != nil {
			t.Fatalf("Put(%q) error = %v", name, err)
		}
	}

	// "_" and "%" in the prefix match literally, not as LIKE wildcards.
	n, err := s.DeletePrefix("cap_token/")
	if err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeletePrefix() = %d, want 1", n)
	}
	for _, name := range []string{"capXtoken/b", "cap%token/c"} {
		if _, err := s.Get(name); err != nil {
			t.Errorf("Get(%q) after DeletePrefix error = %v", name, err)
		}
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Put("pin", []byte("persisted")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	got, err := s2.Get("pin")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("Get() = %q, want %q", got, "persisted")
	}
}
