package passphrase

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/MrEthical07/goCred/internal"
)

//go:embed words.txt
var defaultWords string

// maxAttempts bounds how many random lengths RandomWord tries before giving up.
const maxAttempts = 10

var (
	// ErrEmptyDictionary is returned when a dictionary is built from no words.
	ErrEmptyDictionary = errors.New("dictionary must contain at least one word")
	// ErrNoWordsInRange is returned when no word length in the requested range
	// could be found. It signals a configuration problem.
	ErrNoWordsInRange = errors.New("no dictionary words in range")
	// ErrInvalidRange is returned when min exceeds max.
	ErrInvalidRange = errors.New("minimum word length must not exceed maximum")
)

// Dictionary indexes words by their length in characters.
//
// A Dictionary is immutable after construction and safe for concurrent use.
type Dictionary struct {
	byLength map[int][]string
	size     int
	intn     func(int) (int, error)
}

// NewDictionary builds a dictionary from words. Blank entries are ignored and
// surrounding whitespace is trimmed.
func NewDictionary(words []string) (*Dictionary, error) {
	d := &Dictionary{
		byLength: make(map[int][]string),
		intn:     internal.RandomIndex,
	}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		n := len([]rune(w))
		d.byLength[n] = append(d.byLength[n], w)
		d.size++
	}
	if d.size == 0 {
		return nil, ErrEmptyDictionary
	}
	return d, nil
}

// ReadDictionary builds a dictionary from one word per line.
func ReadDictionary(r io.Reader) (*Dictionary, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return NewDictionary(words)
}

// LoadDictionary reads a word list file. An empty path selects the built-in
// list.
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return DefaultDictionary()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary %s: %w", path, err)
	}
	defer f.Close()
	return ReadDictionary(f)
}

// DefaultDictionary returns the built-in word list.
func DefaultDictionary() (*Dictionary, error) {
	return ReadDictionary(strings.NewReader(defaultWords))
}

// Size returns the number of words indexed.
func (d *Dictionary) Size() int { return d.size }

// WordsOfLength returns a copy of the words with exactly n characters.
func (d *Dictionary) WordsOfLength(n int) []string {
	words := d.byLength[n]
	out := make([]string, len(words))
	copy(out, words)
	return out
}

// WordsInRange returns every word whose length lies in [min, max], shortest
// lengths first.
func (d *Dictionary) WordsInRange(min, max int) ([]string, error) {
	if min > max {
		return nil, ErrInvalidRange
	}
	lengths := make([]int, 0, len(d.byLength))
	for n := range d.byLength {
		if n >= min && n <= max {
			lengths = append(lengths, n)
		}
	}
	sort.Ints(lengths)

	var out []string
	for _, n := range lengths {
		out = append(out, d.byLength[n]...)
	}
	return out, nil
}

// RandomWord picks a random length in [min, max] and a random word of that
// length. Lengths with no words are retried a bounded number of times, after
// which ErrNoWordsInRange is returned.
func (d *Dictionary) RandomWord(min, max int) (string, error) {
	if min > max {
		return "", ErrInvalidRange
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		offset, err := d.intn(max - min + 1)
		if err != nil {
			return "", err
		}
		words := d.byLength[min+offset]
		if len(words) == 0 {
			continue
		}
		i, err := d.intn(len(words))
		if err != nil {
			return "", err
		}
		return words[i], nil
	}
	return "", fmt.Errorf(
		"%w: words were not found in the given range (%d to %d); adjust the configured range or add a new dictionary",
		ErrNoWordsInRange, min, max,
	)
}
