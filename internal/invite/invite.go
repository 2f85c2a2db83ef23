// Package invite generates and validates market invite codes.
package invite

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/cazino/engine/internal/apperr"
)

// Charset omits I, O, 0 and 1 so codes can be read aloud.
const Charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of characters in a code.
const Length = 6

// codeRegex matches a well-formed invite code.
var codeRegex = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)

// ErrInvalidCode is returned for a custom code that does not match the
// invite code format.
var ErrInvalidCode = fmt.Errorf("%w: invalid invite code", apperr.ErrConstraint)

// Generate returns a fresh random code. It keeps no state, so uniqueness is
// the caller's concern.
func Generate() string {
	var b strings.Builder
	b.Grow(Length)
	for range Length {
		b.WriteByte(Charset[rand.IntN(len(Charset))])
	}
	return b.String()
}

// Normalize trims whitespace and upper-cases a code typed by a user.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a normalized code against the invite format.
func Validate(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: %q (expected %d characters from %s)", ErrInvalidCode, code, Length, Charset)
	}
	return nil
}
