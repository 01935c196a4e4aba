package verification

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/side/eventful/internal/domain"
)

// Code alphabets. The alphanumeric set drops the ambiguous 0/O and 1/l
// pairs so codes survive being read aloud or retyped.
const (
	numericAlphabet      = "0123456789"
	alphanumericAlphabet = "23456789ABCDEFGHIJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// CodeFormat fixes the length and alphabet of generated codes.
type CodeFormat struct {
	Length   int
	Alphabet string
}

// NumericFormat returns a digits-only format, the style delivered in
// short verification mails.
func NumericFormat(length int) CodeFormat {
	return CodeFormat{Length: length, Alphabet: numericAlphabet}
}

// AlphanumericFormat returns an unambiguous-alphanumeric format for
// longer, link-style codes.
func AlphanumericFormat(length int) CodeFormat {
	return CodeFormat{Length: length, Alphabet: alphanumericAlphabet}
}

// CodeGenerator produces unguessable fixed-format one-time codes from
// a cryptographically secure source. Formats are per-purpose
// configurable with a shared fallback.
type CodeGenerator struct {
	fallback CodeFormat
	formats  map[domain.Purpose]CodeFormat
}

// NewCodeGenerator creates a generator with the given fallback format
// and optional per-purpose overrides.
func NewCodeGenerator(fallback CodeFormat, overrides map[domain.Purpose]CodeFormat) *CodeGenerator {
	formats := make(map[domain.Purpose]CodeFormat, len(overrides))
	for p, f := range overrides {
		formats[p] = f
	}
	return &CodeGenerator{fallback: fallback, formats: formats}
}

// Format returns the format used for a purpose.
func (g *CodeGenerator) Format(purpose domain.Purpose) CodeFormat {
	if f, ok := g.formats[purpose]; ok {
		return f
	}
	return g.fallback
}

// Generate produces one code for the purpose. The distribution is
// uniform over the format's space via rejection sampling. The only
// failure mode is exhaustion of the entropy source, which callers must
// treat as fatal.
func (g *CodeGenerator) Generate(purpose domain.Purpose) (string, error) {
	format := g.Format(purpose)
	if format.Length <= 0 || len(format.Alphabet) == 0 {
		return "", fmt.Errorf("invalid code format for purpose %q", purpose)
	}

	// Largest byte value usable without biasing the modulo.
	limit := byte(256 - 256%len(format.Alphabet))

	code := make([]byte, format.Length)
	buf := make([]byte, format.Length)
	filled := 0
	for filled < format.Length {
		if _, err := io.ReadFull(rand.Reader, buf[:format.Length-filled]); err != nil {
			return "", fmt.Errorf("entropy source exhausted: %w", err)
		}
		for _, b := range buf[:format.Length-filled] {
			if b >= limit && limit != 0 {
				continue
			}
			code[filled] = format.Alphabet[int(b)%len(format.Alphabet)]
			filled++
		}
	}
	return string(code), nil
}
