package clients

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidClient holds the exchange handle plus the account it signs for.
type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

// NewHyperliquidClient builds a client from a hex private key. An empty key
// yields an ephemeral identity, enough for the public info endpoints.
func NewHyperliquidClient(ctx context.Context, privateKeyHex, baseURL string) (*HyperliquidClient, error) {
	privateKey, err := hyperliquidKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	pubECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pubECDSA).Hex()

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(
		ctx,
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{exchange: ex, accountAddr: accountAddr}, nil
}

func hyperliquidKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	if key == "" {
		k, err := crypto.GenerateKey()
		return k, errors.Wrap(err, "failed to generate ephemeral hyperliquid key")
	}

	k, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hyperliquid private key")
	}
	return k, nil
}

// Info returns the read-only market data API.
func (c *HyperliquidClient) Info() *hyperliquid.Info { return c.exchange.Info() }

// AccountAddress returns the address derived from the key.
func (c *HyperliquidClient) AccountAddress() string { return c.accountAddr }
