package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/gofrs/flock"

	"github.com/lavlagaa/lavlagaa/internal/corpus"
	"github.com/lavlagaa/lavlagaa/internal/log"
)

// ErrSnapshotNotFound indicates no snapshot exists for the requested key.
// Callers fall back to a full build.
var ErrSnapshotNotFound = errors.New("index snapshot not found")

const (
	metaFile     = "meta.json"
	vectorsFile  = "vectors.bin"
	passagesFile = "passages.json"
	lockFile     = ".lavlagaa-index.lock"

	snapshotVersion = 1
)

// snapshotMeta describes a persisted semantic index.
type snapshotMeta struct {
	Version   int       `json:"version"`
	Key       string    `json:"key"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotKey derives the snapshot directory name from everything that
// invalidates the vectors: the corpus content, the chunking configuration and
// the embedder model. Any change produces a different key, so a stale
// snapshot is simply never found.
func SnapshotKey(corpusText string, cfg corpus.Config, model string) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}

	writeField(corpus.Fingerprint(corpusText))
	writeField(fmt.Sprintf("chunk=%d overlap=%d", cfg.ChunkSize, cfg.Overlap))
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = corpus.DefaultSeparators
	}
	for _, sep := range seps {
		writeField(sep)
	}
	writeField(model)

	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Save persists the semantic index under dir/<key>. The write goes to a
// temporary directory first and is renamed into place, guarded by a file lock
// so concurrent processes do not clobber each other.
func (s *Semantic) Save(dir, key string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking snapshot dir: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := filepath.Join(dir, key+".tmp")
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clearing stale snapshot temp: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o750); err != nil {
		return fmt.Errorf("creating snapshot temp: %w", err)
	}

	meta := snapshotMeta{
		Version:   snapshotVersion,
		Key:       key,
		Model:     s.model,
		Dim:       s.dim,
		Count:     len(s.passages),
		CreatedAt: time.Now().UTC(),
	}
	if err := writeJSON(filepath.Join(tmp, metaFile), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmp, passagesFile), s.passages); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, vectorsFile), encodeVectors(s.vectors), 0o640); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}

	final := filepath.Join(dir, key)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("removing old snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("activating snapshot: %w", err)
	}
	return nil
}

// LoadSemantic restores a semantic index from dir/<key>.
// Returns ErrSnapshotNotFound when the directory does not exist, and a
// wrapped error when it exists but is inconsistent.
func LoadSemantic(dir, key string, embedder ai.Embedder, logger log.Logger) (*Semantic, error) {
	base := filepath.Join(dir, key)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, base)
	}

	var meta snapshotMeta
	if err := readJSON(filepath.Join(base, metaFile), &meta); err != nil {
		return nil, err
	}
	if meta.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", ErrIndexUnavailable, meta.Version, snapshotVersion)
	}
	if meta.Key != key {
		return nil, fmt.Errorf("%w: snapshot key %q does not match directory %q", ErrIndexUnavailable, meta.Key, key)
	}

	var passages []corpus.Passage
	if err := readJSON(filepath.Join(base, passagesFile), &passages); err != nil {
		return nil, err
	}
	if len(passages) != meta.Count {
		return nil, fmt.Errorf("%w: snapshot has %d passages, meta says %d", ErrIndexUnavailable, len(passages), meta.Count)
	}

	raw, err := os.ReadFile(filepath.Join(base, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("reading vectors: %w", err)
	}
	vectors, err := decodeVectors(raw, meta.Count, meta.Dim)
	if err != nil {
		return nil, err
	}

	logger.Info("semantic index loaded from snapshot",
		"passages", meta.Count, "dim", meta.Dim, "model", meta.Model, "key", key)

	return &Semantic{
		embedder: embedder,
		model:    meta.Model,
		dim:      meta.Dim,
		passages: passages,
		vectors:  vectors,
		logger:   logger,
	}, nil
}

// LoadOrBuildSemantic restores the snapshot matching the corpus identity, or
// builds the index from scratch and saves a fresh snapshot. A failed save is
// logged but not fatal: the in-memory index is still usable.
func LoadOrBuildSemantic(ctx context.Context, embedder ai.Embedder, model, corpusText string, chunkCfg corpus.Config, dir string, logger log.Logger) (*Semantic, error) {
	key := SnapshotKey(corpusText, chunkCfg, model)

	s, err := LoadSemantic(dir, key, embedder, logger)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSnapshotNotFound) {
		logger.Warn("ignoring unreadable index snapshot", "key", key, "error", err)
	}

	passages := corpus.Split(corpusText, chunkCfg)
	s, err = BuildSemantic(ctx, embedder, model, passages, logger)
	if err != nil {
		return nil, err
	}

	if err := s.Save(dir, key); err != nil {
		logger.Warn("failed to save index snapshot", "key", key, "error", err)
	}
	return s, nil
}

// encodeVectors flattens vectors into little-endian float32 bytes.
func encodeVectors(vectors [][]float32) []byte {
	var total int
	for _, v := range vectors {
		total += len(v)
	}
	buf := make([]byte, 0, total*4)
	var scratch [4]byte
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(x))
			buf = append(buf, scratch[:]...)
		}
	}
	return buf
}

// decodeVectors reverses encodeVectors for count vectors of dim values.
func decodeVectors(raw []byte, count, dim int) ([][]float32, error) {
	if len(raw) != count*dim*4 {
		return nil, fmt.Errorf("%w: vectors file has %d bytes, want %d", ErrIndexUnavailable, len(raw), count*dim*4)
	}
	vectors := make([][]float32, count)
	off := 0
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
		}
		vectors[i] = v
	}
	return vectors, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}
