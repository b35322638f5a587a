package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// KeyContext holds the optional request fields folded into a cache key.
type KeyContext struct {
	SessionID string
	Persona   string
	Tier      string
}

// NormalizeText applies NFKC, Unicode case folding and whitespace collapsing
// so that trivially different spellings of a query share a key.
func NormalizeText(text string) string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// GenerateKey returns the hex SHA-256 of the normalized text and whichever
// context fields are set. It is a pure function of its inputs.
func GenerateKey(text string, kc *KeyContext) string {
	h := sha256.New()
	h.Write([]byte("text=" + NormalizeText(text)))
	if kc != nil {
		for _, f := range []struct{ name, value string }{
			{"session", kc.SessionID},
			{"persona", kc.Persona},
			{"tier", kc.Tier},
		} {
			if f.value != "" {
				h.Write([]byte{0})
				h.Write([]byte(f.name + "=" + f.value))
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
