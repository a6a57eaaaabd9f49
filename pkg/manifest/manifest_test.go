package manifest

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestManager(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "manifest.json")

	t.Run("RecordAndReload", func(t *testing.T) {
		mgr, err := NewManager(path)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}

		err = mgr.Record(Record{URL: "https://example.com/a.bin", Path: "out/a.bin", Bytes: 10, Total: 10, Complete: true})
		if err != nil {
			t.Fatalf("Failed to record: %v", err)
		}
		err = mgr.Record(Record{URL: "https://example.com/b.bin", Path: "out/b.bin", Bytes: 5, Total: 10, Error: "cut short"})
		if err != nil {
			t.Fatalf("Failed to record: %v", err)
		}

		reopened, err := NewManager(path)
		if err != nil {
			t.Fatalf("Failed to reopen manifest: %v", err)
		}
		recs := reopened.Records()
		if len(recs) != 2 {
			t.Fatalf("Expected 2 records, got %d", len(recs))
		}
		if recs[0].Path != "out/a.bin" || !recs[0].Complete {
			t.Errorf("Unexpected first record: %+v", recs[0])
		}
		if recs[1].Complete || recs[1].Bytes != 5 || recs[1].Error != "cut short" {
			t.Errorf("Unexpected partial record: %+v", recs[1])
		}
		if recs[1].UpdatedAt.IsZero() {
			t.Error("Expected UpdatedAt to be set")
		}
	})

	t.Run("IsComplete", func(t *testing.T) {
		mgr, err := NewManager(path)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if !mgr.IsComplete("https://example.com/a.bin", "out/a.bin") {
			t.Error("Expected a.bin to be complete")
		}
		if mgr.IsComplete("https://example.com/other", "out/a.bin") {
			t.Error("A different source URL must not count as complete")
		}
		if mgr.IsComplete("https://example.com/b.bin", "out/b.bin") {
			t.Error("Partial download must not count as complete")
		}
	})

	t.Run("ForgetAndDelete", func(t *testing.T) {
		mgr, err := NewManager(path)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if err := mgr.Forget("out/b.bin"); err != nil {
			t.Fatalf("Failed to forget: %v", err)
		}
		if _, ok := mgr.Lookup("out/b.bin"); ok {
			t.Error("Expected b.bin to be forgotten")
		}

		if err := mgr.Backup(); err != nil {
			t.Fatalf("Failed to back up: %v", err)
		}
		if _, err := os.Stat(path + ".backup"); err != nil {
			t.Errorf("Expected backup file: %v", err)
		}

		if err := mgr.Delete(); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("Expected manifest file to be removed")
		}
		if len(mgr.Records()) != 0 {
			t.Error("Expected no records after delete")
		}
	})
}

func TestConcurrentRecords(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "manifest.json"))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := filepath.Join("out", string(rune('a'+i)))
			if err := mgr.Record(Record{Path: path, Complete: true}); err != nil {
				t.Errorf("record %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(mgr.Records()); got != 20 {
		t.Errorf("Expected 20 records, got %d", got)
	}
}

func TestCorruptManifestIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Error("Expected decode error")
	}
}
