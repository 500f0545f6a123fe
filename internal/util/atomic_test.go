package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAtomicWriteJSON(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.json")

	data := map[string]string{"key": "value"}
	if err := AtomicWriteJSON(testFile, data); err != nil {
		t.Fatalf("AtomicWriteJSON error: %v", err)
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "{\n  \"key\": \"value\"\n}" {
		t.Fatalf("Unexpected content: %s", content)
	}

	// No staging files left behind
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestAtomicWriteOverwrite(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "doc.json")

	if err := AtomicWriteFile(testFile, []byte("first"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(testFile, []byte("second"), 0600); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "second" {
		t.Errorf("content = %q, want second", content)
	}
	info, err := os.Stat(testFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestAtomicWriteJSONUnmarshallable(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "bad.json")
	if err := AtomicWriteJSON(testFile, make(chan int)); err == nil {
		t.Fatal("expected error for unmarshallable value")
	}
	if _, err := os.Stat(testFile); !os.IsNotExist(err) {
		t.Error("target file should not exist after marshal failure")
	}
}

func TestAtomicWriteFileConcurrent(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "concurrent.json")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := AtomicWriteJSON(testFile, map[string]int{"n": n}); err != nil {
				t.Errorf("write %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := json.Unmarshal(content, &got); err != nil {
		t.Fatalf("file is not valid JSON after concurrent writes: %v", err)
	}
}

func TestMoveFile(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "a.d12")
	dst := filepath.Join(tmpDir, "nested", "dir", "b.d12")
	if err := os.WriteFile(src, []byte("input"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after move")
	}
	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "input" {
		t.Errorf("content = %q", content)
	}
}
