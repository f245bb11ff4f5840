// Package reader loads set collections from flat files: one (SetID, Token)
// tuple per line, or one document per line whose text is tokenized into a
// set.
package reader

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
)

// DefaultSeed seeds set sampling when Options.Seed is zero.
const DefaultSeed = 42

// Options controls how a collection is read.
type Options struct {
	// Reversed reads tuples as (Token, SetID).
	Reversed bool
	// SampleK keeps a random sample of K sets; 0 keeps all of them.
	SampleK int
	Seed    int64
	// ShingleSize > 1 turns document text into word shingles instead of
	// single terms.
	ShingleSize int
}

// Collection is a list of sets with their external ids. IDs[i] names
// Sets[i]; ids keep their first-seen order in the input.
type Collection struct {
	IDs  []string
	Sets [][]string
}

func (c *Collection) Len() int { return len(c.Sets) }

// Fingerprint hashes the ids and tokens of the collection. Two collections
// read from the same input with the same options share a fingerprint.
func (c *Collection) Fingerprint() string {
	h := sha256.New()
	for i, set := range c.Sets {
		h.Write([]byte(c.IDs[i]))
		h.Write([]byte{0})
		for _, tok := range set {
			h.Write([]byte(tok))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// ReadTuples parses whitespace-separated (SetID, Token) lines. Lines starting
// with '#' and blank lines are skipped.
func ReadTuples(r io.Reader, opts Options) (*Collection, error) {
	logger := slog.Default().With("component", "reader")
	index := make(map[string]int)
	coll := &Collection{}
	tuples := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.HasPrefix(text, "#") || strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: want 2 fields, got %d", apperrors.ErrInvalidInput, line, len(fields))
		}
		setID, token := fields[0], fields[1]
		if opts.Reversed {
			setID, token = token, setID
		}
		i, ok := index[setID]
		if !ok {
			i = len(coll.IDs)
			index[setID] = i
			coll.IDs = append(coll.IDs, setID)
			coll.Sets = append(coll.Sets, nil)
		}
		coll.Sets[i] = append(coll.Sets[i], token)
		tuples++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading tuples: %w", err)
	}
	logger.Info("tuples read", "tuples", tuples, "sets", len(coll.Sets), "reversed", opts.Reversed)
	return sample(coll, opts)
}

// ReadDocuments parses "SetID<TAB>text" lines and tokenizes the text into a
// set of terms (or shingles). Repeated ids add to the same set.
func ReadDocuments(r io.Reader, opts Options) (*Collection, error) {
	logger := slog.Default().With("component", "reader")
	index := make(map[string]int)
	coll := &Collection{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.HasPrefix(text, "#") || strings.TrimSpace(text) == "" {
			continue
		}
		setID, body, ok := strings.Cut(text, "\t")
		if !ok || strings.TrimSpace(setID) == "" {
			return nil, fmt.Errorf("%w: line %d: want SetID<TAB>text", apperrors.ErrInvalidInput, line)
		}
		setID = strings.TrimSpace(setID)
		i, seen := index[setID]
		if !seen {
			i = len(coll.IDs)
			index[setID] = i
			coll.IDs = append(coll.IDs, setID)
			coll.Sets = append(coll.Sets, nil)
		}
		coll.Sets[i] = append(coll.Sets[i], tokenizer.Shingles(body, opts.ShingleSize)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	logger.Info("documents read", "sets", len(coll.Sets), "shingle_size", max(1, opts.ShingleSize))
	return sample(coll, opts)
}

// ReadFile opens path and reads it with ReadTuples or ReadDocuments
// depending on format ("tuples" or "text").
func ReadFile(path, format string, opts Options) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var coll *Collection
	switch format {
	case "", "tuples":
		coll, err = ReadTuples(f, opts)
	case "text":
		coll, err = ReadDocuments(f, opts)
	default:
		return nil, fmt.Errorf("%w: unknown input format %q", apperrors.ErrInvalidInput, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return coll, nil
}

// sample keeps opts.SampleK randomly chosen sets, in their sampled order.
func sample(coll *Collection, opts Options) (*Collection, error) {
	if opts.SampleK <= 0 {
		return coll, nil
	}
	if opts.SampleK > coll.Len() {
		return nil, fmt.Errorf("%w: sample of %d sets requested from %d",
			apperrors.ErrInvalidInput, opts.SampleK, coll.Len())
	}
	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(coll.Len())[:opts.SampleK]
	out := &Collection{
		IDs:  make([]string, 0, opts.SampleK),
		Sets: make([][]string, 0, opts.SampleK),
	}
	for _, i := range picked {
		out.IDs = append(out.IDs, coll.IDs[i])
		out.Sets = append(out.Sets, coll.Sets[i])
	}
	return out, nil
}
