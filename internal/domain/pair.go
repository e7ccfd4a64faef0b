// Package domain defines core data structures used throughout the agent.
package domain

import (
	"fmt"
	"strings"
)

// Pair represents the traded instrument, e.g. BTC_USDT.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated exchange symbol, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// ParsePair accepts BTC_USDT, BTC-USD and BTC/USDT forms.
func ParsePair(s string) (Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"_", "-", "/"} {
		parts := strings.Split(s, sep)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return Pair{From: parts[0], To: parts[1]}, nil
		}
	}

	return Pair{}, fmt.Errorf("invalid pair %q", s)
}
