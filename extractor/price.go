package extractor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice converts a Brazilian-formatted amount into a decimal.
//
// Dots are thousands separators and a comma marks decimals ("1.299,90").
// A separate cents fragment, when non-empty, replaces any decimals found
// in fraction. Empty input yields zero.
func ParsePrice(fraction, cents string) (decimal.Decimal, error) {
	text := strings.ReplaceAll(strings.TrimSpace(fraction), ".", "")
	text = strings.ReplaceAll(text, ",", ".")
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, nil
	}

	if cents = strings.TrimSpace(cents); cents != "" {
		if whole, _, ok := strings.Cut(text, "."); ok {
			text = whole
		}
		text = text + "." + cents
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", fraction, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse price %q: negative amount", fraction)
	}
	return d, nil
}
