// Package evidence stores per-step snapshots of a workflow run on disk, one
// directory per run with a manifest.json index.
package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ManifestName is the index file written into every run directory.
const ManifestName = "manifest.json"

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Entry describes one stored item.
type Entry struct {
	Seq      int       `json:"seq"`
	Label    string    `json:"label"`
	File     string    `json:"file"`
	Bytes    int       `json:"bytes"`
	SHA256   string    `json:"sha256"`
	StoredAt time.Time `json:"stored_at"`
}

// Manifest lists everything stored for a run, in order.
type Manifest struct {
	RunID   uuid.UUID `json:"run_id"`
	Entries []Entry   `json:"entries"`
}

// FileStore writes evidence under root/<run id>/.
type FileStore struct {
	root   string
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	manifests map[uuid.UUID]*Manifest
}

// NewFileStore creates a FileStore rooted at dir. The directory is created on
// first use.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{
		root:      dir,
		logger:    logger.Named("evidence"),
		now:       time.Now,
		manifests: make(map[uuid.UUID]*Manifest),
	}
}

// RunDir returns the directory holding runID's evidence.
func (s *FileStore) RunDir(runID uuid.UUID) string {
	return filepath.Join(s.root, runID.String())
}

// StoreEvidence writes data as the next numbered item of runID and updates
// the run's manifest.
func (s *FileStore) StoreEvidence(ctx context.Context, data []byte, label string, runID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("refusing to store empty evidence")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating evidence directory: %w", err)
	}
	m, err := s.manifest(runID)
	if err != nil {
		return err
	}

	seq := len(m.Entries) + 1
	name := fmt.Sprintf("%02d-%s%s", seq, slug(label), extension(data))
	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("writing evidence %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	m.Entries = append(m.Entries, Entry{
		Seq:      seq,
		Label:    label,
		File:     name,
		Bytes:    len(data),
		SHA256:   hex.EncodeToString(sum[:]),
		StoredAt: s.now().UTC(),
	})
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding evidence manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestName), raw); err != nil {
		return fmt.Errorf("writing evidence manifest: %w", err)
	}

	s.logger.Debug("Stored evidence",
		zap.String("run_id", runID.String()),
		zap.String("label", label),
		zap.String("file", name),
		zap.Int("bytes", len(data)))
	return nil
}

// manifest returns the cached manifest, loading it from disk when a run
// directory already exists.
func (s *FileStore) manifest(runID uuid.UUID) (*Manifest, error) {
	if m, ok := s.manifests[runID]; ok {
		return m, nil
	}
	m, err := ReadManifest(s.RunDir(runID))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m = &Manifest{RunID: runID}
	case err != nil:
		return nil, err
	}
	s.manifests[runID] = m
	return m, nil
}

// ReadManifest loads the manifest of a run directory.
func ReadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding evidence manifest: %w", err)
	}
	return &m, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func extension(data []byte) string {
	if bytes.HasPrefix(data, pngMagic) {
		return ".png"
	}
	head := bytes.ToLower(bytes.TrimSpace(data[:min(len(data), 512)]))
	if bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) {
		return ".html"
	}
	return ".bin"
}

func slug(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "evidence"
	}
	return out
}
