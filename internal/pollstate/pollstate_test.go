package pollstate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "polldata.json"))
	blob := []byte(`{"offers_since":1700000000,"history_since":1700000100}`)
	if err := f.Save(blob); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint to be present")
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("round trip mismatch: %q != %q", got, blob)
	}
}

func TestLoadMissingFileIsAbsent(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "polldata.json"))
	_, ok, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("expected absent checkpoint")
	}
}

func TestLoadCorruptFileIsAbsentNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polldata.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := NewFile(path)
	_, ok, err := f.Load()
	if err != nil {
		t.Fatalf("expected corrupt content to be tolerated, got %v", err)
	}
	if ok {
		t.Fatal("expected corrupt checkpoint to read as absent")
	}
}
