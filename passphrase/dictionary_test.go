package passphrase

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDictionaryRejectsEmpty(t *testing.T) {
	_, err := NewDictionary(nil)
	assert.ErrorIs(t, err, ErrEmptyDictionary)

	_, err = NewDictionary([]string{"", "   "})
	assert.ErrorIs(t, err, ErrEmptyDictionary)
}

func TestDictionaryBucketsByLength(t *testing.T) {
	d, err := NewDictionary([]string{"four", "foo", "bar", "baz", " five "})
	require.NoError(t, err)

	assert.Equal(t, 5, d.Size())
	assert.Equal(t, []string{"foo", "bar", "baz"}, d.WordsOfLength(3))
	assert.Equal(t, []string{"four", "five"}, d.WordsOfLength(4))
	assert.Empty(t, d.WordsOfLength(9))
}

func TestWordsOfLengthReturnsCopy(t *testing.T) {
	d, err := NewDictionary([]string{"four"})
	require.NoError(t, err)

	words := d.WordsOfLength(4)
	words[0] = "mutated"
	assert.Equal(t, []string{"four"}, d.WordsOfLength(4))
}

func TestWordsInRange(t *testing.T) {
	d, err := NewDictionary([]string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	words, err := d.WordsInRange(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"bb", "ccc", "dddd"}, words)

	_, err = d.WordsInRange(5, 2)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRandomWordSingleLength(t *testing.T) {
	d, err := NewDictionary([]string{"four", "foo", "bar", "baz"})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		w, err := d.RandomWord(4, 4)
		require.NoError(t, err)
		assert.Equal(t, "four", w)
	}
}

func TestRandomWordGivesUpAfterBoundedAttempts(t *testing.T) {
	d, err := NewDictionary([]string{"foo", "bar"})
	require.NoError(t, err)

	calls := 0
	d.intn = func(n int) (int, error) {
		calls++
		return 0, nil
	}

	_, err = d.RandomWord(4, 8)
	require.ErrorIs(t, err, ErrNoWordsInRange)
	assert.Contains(t, err.Error(), "(4 to 8)")
	assert.Equal(t, maxAttempts, calls)
}

func TestRandomWordRetriesPastEmptyBucket(t *testing.T) {
	d, err := NewDictionary([]string{"sixsix", "four"})
	require.NoError(t, err)

	// First pick lands on length 5 (empty), second on length 4.
	picks := []int{1, 0, 0}
	d.intn = func(n int) (int, error) {
		v := picks[0]
		picks = picks[1:]
		return v, nil
	}

	w, err := d.RandomWord(4, 6)
	require.NoError(t, err)
	assert.Equal(t, "four", w)
}

func TestRandomWordPropagatesRandomError(t *testing.T) {
	d, err := NewDictionary([]string{"four"})
	require.NoError(t, err)

	boom := errors.New("entropy exhausted")
	d.intn = func(int) (int, error) { return 0, boom }

	_, err = d.RandomWord(4, 4)
	assert.ErrorIs(t, err, boom)
}

func TestLoadDictionaryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbravo\n\ncharlie\n"), 0o600))

	d, err := LoadDictionary(path)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())

	_, err = LoadDictionary(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestDefaultDictionaryCoversDefaultRange(t *testing.T) {
	d, err := DefaultDictionary()
	require.NoError(t, err)

	cfg := DefaultConfig()
	for n := cfg.MinWordLength; n <= cfg.MaxWordLength; n++ {
		assert.NotEmpty(t, d.WordsOfLength(n), "length %d", n)
	}
	for _, n := range []int{4, 5, 6} {
		for _, w := range d.WordsOfLength(n) {
			assert.Equal(t, strings.ToLower(w), w)
		}
	}
}
