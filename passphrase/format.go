package passphrase

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one building block of a passphrase format.
type Kind int

const (
	// CapitalWord is a dictionary word with its first letter upper-cased.
	CapitalWord Kind = iota
	// Word is a dictionary word as stored.
	Word
	// Digit is a single random digit 0-9.
	Digit
	// Special is one random character from the generator's symbol set.
	Special
	// Separator is a fixed literal string.
	Separator
)

var kindCodes = map[rune]Kind{
	'C': CapitalWord,
	'W': Word,
	'D': Digit,
	'S': Special,
	'M': Separator,
}

// Code returns the single-character code for k.
func (k Kind) Code() byte {
	switch k {
	case CapitalWord:
		return 'C'
	case Word:
		return 'W'
	case Digit:
		return 'D'
	case Special:
		return 'S'
	case Separator:
		return 'M'
	default:
		return '?'
	}
}

// Component is one element of a Format. Literal is only used by Separator.
type Component struct {
	Kind    Kind
	Literal string
}

// Sep builds a Separator component.
func Sep(literal string) Component { return Component{Kind: Separator, Literal: literal} }

// Format is the ordered component list a passphrase is built from.
type Format []Component

// DefaultFormatCode is the format used when none is configured.
const DefaultFormatCode = "CMDDDMW"

// DefaultSeparator is substituted for M codes when none is configured.
const DefaultSeparator = "-"

// ErrInvalidFormat is returned for an unknown format code or an empty format.
var ErrInvalidFormat = errors.New("invalid password format")

// ParseFormat turns a code string such as "CMDDDMW" into a Format. Each M is
// replaced by separator.
func ParseFormat(code, separator string) (Format, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: format must not be empty", ErrInvalidFormat)
	}
	f := make(Format, 0, len(code))
	for _, c := range code {
		kind, ok := kindCodes[c]
		if !ok {
			return nil, fmt.Errorf("%w: invalid password format character: %c", ErrInvalidFormat, c)
		}
		comp := Component{Kind: kind}
		if kind == Separator {
			comp.Literal = separator
		}
		f = append(f, comp)
	}
	return f, nil
}

// String renders f back to its code form.
func (f Format) String() string {
	var b strings.Builder
	b.Grow(len(f))
	for _, c := range f {
		b.WriteByte(c.Kind.Code())
	}
	return b.String()
}

func (f Format) usesWords() bool {
	for _, c := range f {
		if c.Kind == CapitalWord || c.Kind == Word {
			return true
		}
	}
	return false
}
