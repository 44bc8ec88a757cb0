// Package numbering produces human-readable, roughly time-sortable identifiers
// for requests and tickets.
package numbering

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix selects the entity kind encoded in a number.
type Prefix string

const (
	PrefixRequest Prefix = "REQ"
	PrefixTicket  Prefix = "TKT"
)

const (
	suffixLen = 4
	alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Generate returns <PREFIX>-<base36 unix millis>-<4 random base36 chars>.
// Collisions are possible; callers retry on store uniqueness violations.
func Generate(prefix Prefix, now time.Time) string {
	return string(prefix) + "-" + timestamp(now) + "-" + randomSuffix()
}

func timestamp(now time.Time) string {
	return strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
}

func randomSuffix() string {
	entropy := uuid.New()
	var b strings.Builder
	b.Grow(suffixLen)
	for i := 0; i < suffixLen; i++ {
		b.WriteByte(alphabet[int(entropy[i])%len(alphabet)])
	}
	return b.String()
}

// Generator binds a prefix to a clock.
type Generator struct {
	Prefix Prefix
	Now    func() time.Time
}

// Next returns a fresh number using the generator's clock.
func (g Generator) Next() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return Generate(g.Prefix, now())
}
