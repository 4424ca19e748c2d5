package password

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = ".,!@#$%"
	alphaChars   = lowerChars + upperChars
	allChars     = lowerChars + upperChars + digitChars + specialChars
)

// Length is the fixed password length mandated by the rotation policy.
const Length = 14

// Generator produces rotation passwords from a cryptographic entropy
// source. The zero value is not usable; construct with New.
type Generator struct {
	source io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{source: rand.Reader}
}

// NewWithSource returns a generator backed by the given entropy source.
// Only tests should substitute the source; production callers must stay on
// crypto/rand so an exhausted or broken source fails loudly instead of
// degrading.
func NewWithSource(source io.Reader) *Generator {
	return &Generator{source: source}
}

// Generate produces one password satisfying the rotation policy: exactly
// Length characters, an alphabetic first character, and at least one upper,
// one lower, one digit and one special character overall. The class
// guarantees are met by construction, never by resampling whole candidates.
func (g *Generator) Generate() (string, error) {
	out := make([]byte, 0, Length)

	// Leading character is always alphabetic; some PAM-managed systems
	// reject credentials that start with a digit or symbol.
	c, err := g.pick(alphaChars)
	if err != nil {
		return "", err
	}
	out = append(out, c)

	// One guaranteed draw per required class keeps the composition rule
	// independent of the leading character.
	for _, set := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := g.pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for len(out) < Length {
		c, err := g.pick(allChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Shuffle everything after the pinned first character so the
	// guaranteed-class draws do not sit at predictable offsets.
	if err := g.shuffle(out[1:]); err != nil {
		return "", err
	}

	return string(out), nil
}

// GenerateSet produces one password per name, returned in input order.
func (g *Generator) GenerateSet(names []string) (map[string]string, error) {
	passwords := make(map[string]string, len(names))
	for _, name := range names {
		pw, err := g.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate password for %q: %w", name, err)
		}
		passwords[name] = pw
	}
	return passwords, nil
}

func (g *Generator) pick(set string) (byte, error) {
	i, err := g.intn(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func (g *Generator) shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func (g *Generator) intn(n int) (int, error) {
	v, err := rand.Int(g.source, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("entropy source unavailable: %w", err)
	}
	return int(v.Int64()), nil
}
