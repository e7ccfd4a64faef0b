package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperliquidKey(t *testing.T) {
	const hexKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	k1, err := hyperliquidKey("0x" + hexKey)
	require.NoError(t, err)
	k2, err := hyperliquidKey(hexKey)
	require.NoError(t, err)
	assert.Zero(t, k1.D.Cmp(k2.D))

	eph, err := hyperliquidKey("")
	require.NoError(t, err)
	assert.NotNil(t, eph)

	_, err = hyperliquidKey("zz")
	assert.Error(t, err)
}
