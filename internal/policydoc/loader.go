// Package policydoc loads the policy document used as chat context
package policydoc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/cache"
)

// ErrNotFound is returned when the policy file does not exist
var ErrNotFound = errors.New("policy document not found")

// Loader extracts policy text, caching by path, size and modification time
type Loader struct {
	cache   cache.Cache
	logger  *zap.Logger
	extract func(path string) (string, error)
}

// NewLoader creates a loader. A nil cache disables caching.
func NewLoader(c cache.Cache, logger *zap.Logger) *Loader {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: c, logger: logger.Named("policydoc"), extract: extractFile}
}

// Load returns the text of the document at path
func (l *Loader) Load(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w at %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("stat policy document: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	key := cache.Key("policy",
		[]byte(abs),
		[]byte(strconv.FormatInt(info.Size(), 10)),
		[]byte(info.ModTime().UTC().Format(time.RFC3339Nano)),
	)

	if text, ok := l.cache.Get(key); ok {
		l.logger.Debug("policy text cache hit", zap.String("path", path))
		return string(text), nil
	}

	start := time.Now()
	text, err := l.extract(path)
	if err != nil {
		return "", err
	}
	l.logger.Debug("extracted policy text",
		zap.String("path", path),
		zap.Int("chars", len(text)),
		zap.Duration("took", time.Since(start)),
	)

	if err := l.cache.Set(key, []byte(text), 0); err != nil {
		l.logger.Warn("failed to cache policy text", zap.Error(err))
	}
	return text, nil
}

func extractFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read policy document: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return ExtractPDF(path)
	}
}

// ExtractPDF returns the plain text of every page, pages separated by a
// blank line, with surrounding whitespace trimmed
func ExtractPDF(path string) (text string, err error) {
	// the PDF parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("error reading PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w at %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("error reading PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("error reading PDF page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}

	return strings.TrimSpace(b.String()), nil
}
