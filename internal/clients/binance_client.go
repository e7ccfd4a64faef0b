package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient returns a spot client. Empty keys give a client that can
// only reach public market data endpoints.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
