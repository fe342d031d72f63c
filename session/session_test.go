package session

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/m4xw311/tandem/errors"
)

func TestStoreSaveLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	tr := store.Create("demo")
	tr.Mode = "prompt"
	tr.SetMessages(sampleHistory())
	if err := store.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name != "demo" || loaded.Mode != "prompt" {
		t.Errorf("metadata not preserved: %+v", loaded)
	}
	msgs, err := loaded.Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if !reflect.DeepEqual(msgs, sampleHistory()) {
		t.Fatalf("history mismatch: %#v", msgs)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load("nope"); err == nil {
		t.Fatal("expected error for missing transcript")
	}
}

func TestStoreRejectsNamesOutsideDir(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "sessions"))
	victim := filepath.Join(root, "victim.json")
	if err := os.WriteFile(victim, []byte(`{"name":"victim","history":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"", ".", "..", "../victim", "a/b", `a\b`, "x..y"} {
		if err := ValidName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidName(%q) = %v, want ErrInvalidName", name, err)
		}
		if _, err := store.Load(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Load(%q) = %v, want ErrInvalidName", name, err)
		}
		if err := store.Save(&Transcript{Name: name}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(%q) = %v, want ErrInvalidName", name, err)
		}
	}

	data, err := os.ReadFile(victim)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"name":"victim","history":[]}` {
		t.Fatalf("file outside the store was rewritten: %s", data)
	}

	for _, name := range []string{"demo", "proj_2024-03-05_14-07-09", "0b7c6c0e-5a8e-4d2b-9f3e-1a2b3c4d5e6f"} {
		if err := ValidName(name); err != nil {
			t.Errorf("ValidName(%q) = %v", name, err)
		}
	}
}
