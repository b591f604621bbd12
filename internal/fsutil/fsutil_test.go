package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "state.json")

	want := sample{Name: "quiet-otter", Count: 42}
	if err := WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var got sample
	found, err := ReadJSON(path, &got)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if !found {
		t.Fatal("expected found=true for freshly written file")
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestReadJSONAbsence(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		prepare func(t *testing.T) string
	}{
		{
			name: "missing file",
			prepare: func(t *testing.T) string {
				return filepath.Join(dir, "does-not-exist.json")
			},
		},
		{
			name: "malformed file",
			prepare: func(t *testing.T) string {
				p := filepath.Join(dir, "truncated.json")
				if err := os.WriteFile(p, []byte(`{"name": "half`), 0644); err != nil {
					t.Fatal(err)
				}
				return p
			},
		},
		{
			name: "empty file",
			prepare: func(t *testing.T) string {
				p := filepath.Join(dir, "empty.json")
				if err := os.WriteFile(p, nil, 0644); err != nil {
					t.Fatal(err)
				}
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out sample
			found, err := ReadJSON(tt.prepare(t), &out)
			if err != nil {
				t.Fatalf("ReadJSON returned error: %v", err)
			}
			if found {
				t.Error("expected found=false")
			}
		})
	}
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value.json")

	for i := 0; i < 5; i++ {
		if err := WriteJSON(path, sample{Count: i}); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one file, found %d", len(entries))
	}
}

func TestWriteFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := WriteJSON(path, sample{Name: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, sample{Name: "second"}); err != nil {
		t.Fatal(err)
	}

	var got sample
	if found, _ := ReadJSON(path, &got); !found {
		t.Fatal("file should exist")
	}
	if got.Name != "second" {
		t.Errorf("got %q, want %q", got.Name, "second")
	}
}

func TestWriteReadText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.md")

	if err := WriteText(path, "# Plan\n\nDo the thing.\n"); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	text, found := ReadText(path)
	if !found {
		t.Fatal("expected text file to exist")
	}
	if !strings.HasPrefix(text, "# Plan") {
		t.Errorf("unexpected content: %q", text)
	}

	if _, found := ReadText(filepath.Join(dir, "absent.md")); found {
		t.Error("expected found=false for missing text file")
	}
}
