package arb

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/phenomenon0/edgetrader/pkg/trader/market"
)

// Matcher maps a contract on venue A to its economic equivalent on venue B.
// complementary reports whether the equivalent is the opposite side of the
// same outcome (the usual case for a two-sided lock) or the same side.
type Matcher interface {
	Counterpart(q market.Quote) (contractID string, complementary bool, ok bool)
}

// StaticMatcher maps contract IDs through an explicit table. All pairs are
// treated as complementary.
type StaticMatcher map[string]string

func (m StaticMatcher) Counterpart(q market.Quote) (string, bool, bool) {
	id, ok := m[q.ContractID]
	return id, true, ok
}

// NormalizedMatcher matches contracts whose normalized identifiers agree.
// Venues disagree on casing, diacritics and spacing in contract slugs;
// normalizing both sides makes "Real-Madrid vs. Atlético" and
// "real madrid vs atletico" the same key.
type NormalizedMatcher struct {
	index map[string]string // normalized key -> venue B contract ID
}

// NewNormalizedMatcher indexes venue B's quotes by normalized contract ID.
func NewNormalizedMatcher(quotesB []market.Quote) *NormalizedMatcher {
	m := &NormalizedMatcher{index: make(map[string]string, len(quotesB))}
	for _, q := range quotesB {
		m.index[Normalize(q.ContractID)] = q.ContractID
	}
	return m
}

func (m *NormalizedMatcher) Counterpart(q market.Quote) (string, bool, bool) {
	id, ok := m.index[Normalize(q.ContractID)]
	return id, true, ok
}

var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize folds a contract identifier for cross-venue comparison:
// diacritics removed, lowercased, punctuation collapsed to single spaces.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
