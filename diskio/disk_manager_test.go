package diskio

import (
	"os"
	"path/filepath"
	"testing"

	"storagecore/page"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dm, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dm.Close()

	id := dm.AllocatePage()

	var buf [page.PageSize]byte
	copy(buf[:], "hello-page")

	if err := dm.WritePage(id, buf[:]); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	var readBack [page.PageSize]byte
	if err := dm.ReadPage(id, readBack[:]); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(readBack[:10]) != "hello-page" {
		t.Errorf("round trip mismatch: got %q", readBack[:10])
	}
}

func TestReadUnwrittenPageIsZeroed(t *testing.T) {
	dir := t.TempDir()
	dm, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dm.Close()

	id := dm.AllocatePage()

	var buf [page.PageSize]byte
	for i := range buf {
		buf[i] = 0xFF
	}
	if err := dm.ReadPage(id, buf[:]); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: got %x", i, b)
		}
	}
}

func TestAllocatePageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	dm, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := dm.AllocatePage()
	var buf [page.PageSize]byte
	if err := dm.WritePage(id, buf[:]); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	dm.Close()

	dm2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer dm2.Close()

	nextID := dm2.AllocatePage()
	if nextID != id+1 {
		t.Errorf("expected next page id %d after reopen, got %d", id+1, nextID)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
