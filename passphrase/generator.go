package passphrase

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/goCred/internal"
	"github.com/MrEthical07/goCred/password"
)

// Config controls the words and symbols a Generator draws from.
type Config struct {
	MinWordLength int
	MaxWordLength int
	Separator     string
	SpecialChars  string
	Format        string
}

// DefaultConfig returns the stock generator settings.
func DefaultConfig() Config {
	return Config{
		MinWordLength: 4,
		MaxWordLength: 8,
		Separator:     DefaultSeparator,
		SpecialChars:  password.SpecialCharacters,
		Format:        DefaultFormatCode,
	}
}

// Generator composes structured passphrases from a Dictionary.
//
// A Generator is safe for concurrent use.
type Generator struct {
	dict   *Dictionary
	cfg    Config
	format Format
	intn   func(int) (int, error)
}

// NewGenerator validates cfg against dict. A format that cannot be satisfied
// by the dictionary is rejected here rather than at generation time.
func NewGenerator(dict *Dictionary, cfg Config) (*Generator, error) {
	if dict == nil {
		return nil, errors.New("passphrase generator requires a dictionary")
	}
	def := DefaultConfig()
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Separator == "" {
		cfg.Separator = def.Separator
	}
	if cfg.SpecialChars == "" {
		cfg.SpecialChars = def.SpecialChars
	}
	if cfg.MinWordLength <= 0 || cfg.MaxWordLength <= 0 {
		return nil, errors.New("word lengths must be > 0")
	}

	format, err := ParseFormat(cfg.Format, cfg.Separator)
	if err != nil {
		return nil, err
	}
	if err := checkWords(dict, format, cfg.MinWordLength, cfg.MaxWordLength); err != nil {
		return nil, err
	}

	return &Generator{dict: dict, cfg: cfg, format: format, intn: internal.RandomIndex}, nil
}

func checkWords(dict *Dictionary, f Format, min, max int) error {
	if !f.usesWords() {
		return nil
	}
	words, err := dict.WordsInRange(min, max)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: words were not found in the given range (%d to %d)", ErrNoWordsInRange, min, max)
	}
	return nil
}

// Format returns the configured format.
func (g *Generator) Format() Format {
	out := make(Format, len(g.format))
	copy(out, g.format)
	return out
}

// Generate builds a passphrase using the configured format.
func (g *Generator) Generate() (string, error) {
	return g.GenerateFormat(g.format)
}

// GenerateCode parses code with the configured separator and generates from it.
func (g *Generator) GenerateCode(code string) (string, error) {
	f, err := ParseFormat(code, g.cfg.Separator)
	if err != nil {
		return "", err
	}
	if err := checkWords(g.dict, f, g.cfg.MinWordLength, g.cfg.MaxWordLength); err != nil {
		return "", err
	}
	return g.GenerateFormat(f)
}

// GenerateFormat builds a passphrase from an explicit format.
func (g *Generator) GenerateFormat(f Format) (string, error) {
	if len(f) == 0 {
		return "", fmt.Errorf("%w: format must not be empty", ErrInvalidFormat)
	}
	var b strings.Builder
	for _, c := range f {
		part, err := g.component(c)
		if err != nil {
			return "", err
		}
		b.WriteString(part)
	}
	return b.String(), nil
}

func (g *Generator) component(c Component) (string, error) {
	switch c.Kind {
	case CapitalWord:
		w, err := g.dict.RandomWord(g.cfg.MinWordLength, g.cfg.MaxWordLength)
		if err != nil {
			return "", err
		}
		return capitalize(w), nil
	case Word:
		return g.dict.RandomWord(g.cfg.MinWordLength, g.cfg.MaxWordLength)
	case Digit:
		n, err := g.intn(10)
		if err != nil {
			return "", err
		}
		return string(rune('0' + n)), nil
	case Special:
		symbols := []rune(g.cfg.SpecialChars)
		i, err := g.intn(len(symbols))
		if err != nil {
			return "", err
		}
		return string(symbols[i]), nil
	case Separator:
		return c.Literal, nil
	default:
		return "", fmt.Errorf("%w: unknown component kind %d", ErrInvalidFormat, c.Kind)
	}
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}
