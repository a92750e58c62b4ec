package news

import (
	"math"
	"strings"
	"unicode"
)

// Scorer maps a headline to a sentiment in [-1, 1].
type Scorer interface {
	Score(text string) float64
}

// Lexicon is a valence-lexicon scorer in the style of VADER: word valences
// are summed with negation and intensifier handling, then squashed with
// s/sqrt(s^2+alpha) into a compound score in [-1, 1].
type Lexicon struct {
	Valence   map[string]float64
	Boosters  map[string]float64
	Negations map[string]struct{}
	Alpha     float64
}

var _ Scorer = (*Lexicon)(nil)

const (
	negationScalar = -0.74
	negationWindow = 3
)

// NewLexicon returns a Lexicon with a market-news vocabulary.
func NewLexicon() *Lexicon {
	return &Lexicon{
		Valence:   defaultValence,
		Boosters:  defaultBoosters,
		Negations: defaultNegations,
		Alpha:     15,
	}
}

// Score returns the compound sentiment of text.
func (l *Lexicon) Score(text string) float64 {
	words := tokenize(text)
	var sum float64
	for i, w := range words {
		v, ok := l.Valence[w]
		if !ok {
			continue
		}
		if i > 0 {
			if b, ok := l.Boosters[words[i-1]]; ok {
				if v > 0 {
					v += b
				} else {
					v -= b
				}
			}
		}
		for j := max(0, i-negationWindow); j < i; j++ {
			if _, ok := l.Negations[words[j]]; ok {
				v *= negationScalar
				break
			}
		}
		sum += v
	}
	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+l.Alpha)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for i, f := range fields {
		fields[i] = strings.Trim(f, "'")
	}
	return fields
}

var defaultNegations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "without": {}, "isn't": {}, "wasn't": {},
	"aren't": {}, "don't": {}, "doesn't": {}, "didn't": {}, "won't": {}, "cannot": {},
	"fails": {}, "fail": {},
}

var defaultBoosters = map[string]float64{
	"very": 0.293, "extremely": 0.293, "hugely": 0.293, "massive": 0.293,
	"sharply": 0.293, "major": 0.293, "record": 0.293, "big": 0.293,
	"slightly": -0.293, "marginally": -0.293, "somewhat": -0.293,
}

var defaultValence = map[string]float64{
	// positive
	"gain": 1.8, "gains": 1.8, "surge": 2.2, "surges": 2.2, "soar": 2.5, "soars": 2.5,
	"rally": 2.0, "rallies": 2.0, "jump": 1.6, "jumps": 1.6, "rise": 1.2, "rises": 1.2,
	"climb": 1.3, "climbs": 1.3, "rebound": 1.5, "rebounds": 1.5, "recover": 1.4,
	"recovers": 1.4, "bullish": 2.3, "high": 0.8, "highs": 1.0, "beat": 1.5, "beats": 1.5,
	"upgrade": 1.8, "upgrades": 1.8, "approval": 2.0, "approves": 2.0, "approved": 2.0,
	"adoption": 1.5, "partnership": 1.4, "growth": 1.6, "profit": 1.8, "profits": 1.8,
	"strong": 1.7, "record": 1.0, "boost": 1.7, "boosts": 1.7, "win": 2.3, "wins": 2.3,
	"optimism": 2.0, "optimistic": 2.0, "success": 2.5, "good": 1.9, "great": 3.1,
	"inflows": 1.4, "breakthrough": 2.2, "launch": 0.9, "launches": 0.9,
	// negative
	"loss": -1.8, "losses": -1.8, "drop": -1.5, "drops": -1.5, "fall": -1.4, "falls": -1.4,
	"plunge": -2.4, "plunges": -2.4, "crash": -2.9, "crashes": -2.9, "slump": -2.0,
	"slumps": -2.0, "tumble": -2.1, "tumbles": -2.1, "sink": -1.6, "sinks": -1.6,
	"bearish": -2.3, "low": -0.8, "lows": -1.0, "miss": -1.5, "misses": -1.5,
	"downgrade": -1.8, "downgrades": -1.8, "hack": -2.6, "hacked": -2.6, "exploit": -2.2,
	"fraud": -3.0, "lawsuit": -2.0, "sued": -2.0, "ban": -2.1, "bans": -2.1,
	"crackdown": -2.2, "probe": -1.5, "investigation": -1.4, "fear": -2.2, "fears": -2.2,
	"panic": -2.7, "selloff": -2.1, "weak": -1.7, "bankruptcy": -3.0, "collapse": -2.9,
	"collapses": -2.9, "outflows": -1.4, "liquidation": -1.9, "liquidations": -1.9,
	"warning": -1.6, "warns": -1.6, "risk": -1.0, "bad": -2.5, "worst": -3.1,
}
