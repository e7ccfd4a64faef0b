package advisor

import (
	"fmt"
	"strings"

	"github.com/vadiminshakov/btcagent/pkg/indicators"
)

// SystemPrompt defines the instructions for the chat model.
const SystemPrompt = `You are a cautious crypto analyst for a BTC spot paper-trading agent.
Classify the CURRENT market state from the observation. Do not predict price.

Respond ONLY with a JSON object with exactly these fields:
{
  "state": "peak|dip|consolidation",
  "action": "buy|sell|hold",
  "confidence": 0.0-1.0,
  "size_usd": number,
  "stop_atr_k": number or null,
  "reason_short": "one short sentence",
  "risk_flags": ["string", ...]
}

Guidance:
- dip usually pairs with buy, peak with sell, consolidation with hold.
- Use confidence below 0.6 when signals disagree.
- size_usd is a suggestion; risk limits downstream may shrink or reject it.
- stop_atr_k is the stop distance in ATR multiples; null disables the stop.`

// BuildUserPrompt renders the observation, the indicator context and the position.
func BuildUserPrompt(in Input) string {
	var b strings.Builder
	obs := in.Observation

	fmt.Fprintf(&b, "## Observation (%s)\n", in.Pair.String())
	fmt.Fprintf(&b, "time_utc: %s\n", obs.Time.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "interval_min: %d\n", obs.IntervalMinutes)
	fmt.Fprintf(&b, "price: %.2f\n", obs.Price)
	fmt.Fprintf(&b, "rsi14: %.2f\n", obs.RSI14)
	if obs.HasATR() {
		fmt.Fprintf(&b, "atr14: %.2f\n", obs.ATR14)
	} else {
		b.WriteString("atr14: n/a\n")
	}
	if obs.Regime != "" {
		fmt.Fprintf(&b, "regime: %s\n", obs.Regime)
	}

	if mc, err := indicators.CalculateContext(in.Candles); err == nil {
		b.WriteString("\n## Trend context\n")
		fmt.Fprintf(&b, "ema20: %.2f\n", mc.EMA20)
		if mc.HasEMA50 {
			fmt.Fprintf(&b, "ema50: %.2f\n", mc.EMA50)
		}
		fmt.Fprintf(&b, "macd: %.4f signal: %.4f\n", mc.MACD, mc.MACDSignal)
		fmt.Fprintf(&b, "rsi7: %.2f\n", mc.RSI7)
	}

	if n := len(in.Candles); n > 0 {
		b.WriteString("\n## Recent closes (oldest first)\n")
		start := n - 10
		if start < 0 {
			start = 0
		}
		closes := make([]string, 0, n-start)
		for _, c := range in.Candles[start:] {
			closes = append(closes, fmt.Sprintf("%.2f", c.Close))
		}
		b.WriteString(strings.Join(closes, ", "))
		b.WriteString("\n")
	}

	b.WriteString("\n## Position\n")
	fmt.Fprintf(&b, "cash_usd: %.2f\n", in.CashUSD)
	fmt.Fprintf(&b, "btc: %.8f\n", in.BTC)

	return b.String()
}
