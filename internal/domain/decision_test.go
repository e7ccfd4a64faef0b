package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		action  any
	}{
		{name: "plain json", raw: `{"action":"buy","confidence":0.7}`, action: "buy"},
		{name: "fenced json", raw: "```json\n{\"action\":\"sell\"}\n```", action: "sell"},
		{name: "prose around object", raw: "Here you go: {\"action\":\"hold\"} thanks", action: "hold"},
		{name: "not json", raw: "I think you should buy", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRawDecision(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, got["action"])
		})
	}
}

func TestDecision_Validate(t *testing.T) {
	k := 1.3
	valid := Decision{State: StateDip, Action: ActionBuy, Confidence: 0.7, SizeUSD: 300, StopATRK: &k}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Confidence = 1.2
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Action = "short"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.State = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.SizeUSD = -1
	assert.Error(t, bad.Validate())
}

func TestParsePair(t *testing.T) {
	for _, in := range []string{"BTC_USDT", "btc-usdt", "BTC/USDT"} {
		p, err := ParsePair(in)
		require.NoError(t, err, in)
		assert.Equal(t, "BTCUSDT", p.Symbol())
		assert.Equal(t, "BTC_USDT", p.String())
	}

	_, err := ParsePair("BTCUSDT")
	assert.Error(t, err)
}
