package policydoc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/archeck/internal/cache"
)

func TestLoad_TextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	if err := os.WriteFile(path, []byte("\n  Refunds within 30 days.  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := NewLoader(nil, nil).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if text != "Refunds within 30 days." {
		t.Errorf("unexpected text %q", text)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := NewLoader(nil, nil).Load(filepath.Join(t.TempDir(), "nope.pdf"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoad_CachesUntilFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.pdf")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(cache.NewMemoryCache(time.Minute, time.Minute), nil)
	calls := 0
	l.extract = func(string) (string, error) {
		calls++
		return "text", nil
	}

	for i := 0; i < 3; i++ {
		if _, err := l.Load(path); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one extraction, got %d", calls)
	}

	if err := os.WriteFile(path, []byte("version two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected re-extraction after change, got %d calls", calls)
	}
}

func TestLoad_ExtractErrorNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.pdf")
	_ = os.WriteFile(path, []byte("x"), 0o644)

	c := cache.NewMemoryCache(time.Minute, time.Minute)
	l := NewLoader(c, nil)
	l.extract = func(string) (string, error) { return "", errors.New("boom") }

	if _, err := l.Load(path); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Errorf("failed extraction should not be cached")
	}
}

func TestExtractPDF_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	_ = os.WriteFile(path, []byte("this is not a pdf"), 0o644)

	if _, err := ExtractPDF(path); err == nil {
		t.Error("expected error for invalid PDF")
	}
}
