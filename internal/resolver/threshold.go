// Package resolver settles closed up/down markets: it resolves the threshold,
// derives a final underlying price, and tracks official venue results.
package resolver

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Threshold is a resolved price-to-beat and its provenance. Value is nil when
// no source produced one.
type Threshold struct {
	Value  *float64
	Source domain.ReferenceSource
}

// Missing reports whether no threshold was found.
func (t Threshold) Missing() bool {
	return t.Value == nil
}

var (
	// "price to beat: $97,250.12", "strike 97250", "above $3,120"
	keywordThenNumber = regexp.MustCompile(`(?i)(?:price to beat|reference price|strike|target|above|below)[^0-9$]{0,20}\$?\s?([0-9][0-9,]*(?:\.[0-9]+)?)`)
	// "$97,250 or above"
	numberThenKeyword = regexp.MustCompile(`(?i)\$\s?([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:or\s+)?(?:above|below|higher|lower)`)
)

// ResolveThreshold picks the market's price-to-beat, then the discovered
// reference price, then a number embedded in an outcome label or question
// that refers to a reference price.
func ResolveThreshold(snap domain.InstrumentSnapshot) Threshold {
	if validPrice(snap.Market.PriceToBeat) {
		return Threshold{Value: domain.Float(snap.Market.PriceToBeat), Source: domain.RefPriceToBeat}
	}
	if snap.Reference.Set() && validPrice(snap.Reference.Value) {
		return Threshold{Value: domain.Float(snap.Reference.Value), Source: snap.Reference.Source}
	}
	for _, text := range []string{snap.Market.Up.Label, snap.Market.Down.Label, snap.Market.Question} {
		if v, ok := ParseLabelThreshold(text); ok {
			return Threshold{Value: domain.Float(v), Source: domain.RefLabel}
		}
	}
	return Threshold{Source: domain.RefMissing}
}

// ParseLabelThreshold extracts a reference price from free text such as an
// outcome subtitle. Text without reference wording yields false.
func ParseLabelThreshold(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	for _, re := range []*regexp.Regexp{numberThenKeyword, keywordThenNumber} {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil && validPrice(v) {
			return v, true
		}
	}
	return 0, false
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
