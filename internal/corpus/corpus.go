// Package corpus loads the reference document and splits it into ordered,
// overlapping passages for indexing.
//
// Splitting is deterministic: the same document and configuration always
// produce the same passages with the same IDs, which keeps index snapshots
// stable across restarts.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// ErrCorpusNotFound indicates the corpus file does not exist.
// This is fatal at startup: the service cannot answer without its corpus.
var ErrCorpusNotFound = errors.New("corpus not found")

// DefaultSeparators is the separator cascade used for splitting, ordered from
// coarsest to finest. The ideographic full stop appears in scanned source
// documents alongside Cyrillic text.
var DefaultSeparators = []string{"\n\n", "\n", "。", " ", ""}

// Config controls how a document is split into passages.
type Config struct {
	// ChunkSize is the maximum passage length in runes.
	ChunkSize int

	// Overlap is the number of runes shared between consecutive passages.
	Overlap int

	// Separators is the split cascade. Empty means DefaultSeparators.
	Separators []string
}

// Passage is one retrievable unit of the corpus.
type Passage struct {
	// ID is stable across runs: derived from the document hash and the
	// passage sequence number.
	ID string `json:"id"`

	// Seq is the zero-based position of the passage in document order.
	Seq int `json:"seq"`

	// Offset is the rune offset of the passage start in the document.
	Offset int `json:"offset"`

	// Text is the passage content, taken verbatim from the document.
	Text string `json:"text"`
}

// Load reads the corpus document at path.
// A missing file returns ErrCorpusNotFound.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrCorpusNotFound, path)
		}
		return "", fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return string(data), nil
}

// Fingerprint returns the hex SHA-256 of the document text. It keys passage
// IDs and index snapshot directories.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Split divides text into ordered passages.
//
// The splitter walks the separator cascade: it cuts on the coarsest separator
// present, recursively re-splits pieces that still exceed ChunkSize with the
// finer separators, then packs adjacent pieces into passages of at most
// ChunkSize runes with Overlap runes carried over between neighbours. The
// final "" separator guarantees no passage exceeds ChunkSize.
func Split(text string, cfg Config) []Passage {
	if text == "" {
		return nil
	}

	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}

	pieces := splitRecursive([]rune(text), 0, cfg.ChunkSize, seps)
	merged := mergePieces(pieces, cfg.ChunkSize, cfg.Overlap)

	key := Fingerprint(text)[:12]
	passages := make([]Passage, len(merged))
	for i, p := range merged {
		passages[i] = Passage{
			ID:     fmt.Sprintf("%s-%04d", key, i),
			Seq:    i,
			Offset: p.offset,
			Text:   string(p.text),
		}
	}
	return passages
}

// piece is a fragment of the document with its rune offset.
type piece struct {
	text   []rune
	offset int
}

// splitRecursive cuts text on the first separator in seps that occurs in it,
// then re-splits oversized fragments with the remaining separators. The
// separator stays attached to the preceding fragment so that concatenating
// all pieces reproduces the input exactly.
func splitRecursive(text []rune, offset, chunkSize int, seps []string) []piece {
	if len(text) == 0 {
		return nil
	}

	sep, rest := pickSeparator(text, seps)

	var raw []piece
	if sep == "" {
		// Finest level: cut into single runes so the merger has full
		// freedom when packing and overlapping.
		raw = make([]piece, len(text))
		for i, r := range text {
			raw[i] = piece{text: []rune{r}, offset: offset + i}
		}
	} else {
		raw = splitKeep(text, offset, []rune(sep))
	}

	var out []piece
	for _, p := range raw {
		if len(p.text) > chunkSize && len(rest) > 0 {
			out = append(out, splitRecursive(p.text, p.offset, chunkSize, rest)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// pickSeparator returns the first separator in seps present in text, and the
// cascade remaining after it. The empty separator always matches.
func pickSeparator(text []rune, seps []string) (string, []string) {
	s := string(text)
	for i, sep := range seps {
		if sep == "" {
			return "", nil
		}
		if containsRunes(s, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

func containsRunes(s, sub string) bool {
	return len(sub) > 0 && len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// splitKeep splits text on sep, keeping sep attached to the preceding piece.
func splitKeep(text []rune, offset int, sep []rune) []piece {
	var out []piece
	start := 0
	for i := 0; i+len(sep) <= len(text); {
		if runesEqual(text[i:i+len(sep)], sep) {
			end := i + len(sep)
			out = append(out, piece{text: text[start:end], offset: offset + start})
			start = end
			i = end
		} else {
			i++
		}
	}
	if start < len(text) {
		out = append(out, piece{text: text[start:], offset: offset + start})
	}
	return out
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mergePieces packs adjacent pieces into passages of at most chunkSize runes.
// After emitting a passage, pieces are dropped from the front of the window
// until at most overlap runes remain; those runes open the next passage.
func mergePieces(pieces []piece, chunkSize, overlap int) []piece {
	if len(pieces) == 0 {
		return nil
	}

	var out []piece
	var window []piece
	windowLen := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		total := 0
		for _, p := range window {
			total += len(p.text)
		}
		joined := make([]rune, 0, total)
		for _, p := range window {
			joined = append(joined, p.text...)
		}
		out = append(out, piece{text: joined, offset: window[0].offset})
	}

	for _, p := range pieces {
		if windowLen+len(p.text) > chunkSize && windowLen > 0 {
			flush()
			// Carry the overlap tail into the next passage.
			for windowLen > overlap || (windowLen+len(p.text) > chunkSize && windowLen > 0) {
				windowLen -= len(window[0].text)
				window = window[1:]
			}
		}
		window = append(window, p)
		windowLen += len(p.text)
	}
	flush()

	return out
}
