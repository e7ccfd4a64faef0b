package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/btcagent/config"
)

func TestWrite_RoundTripsThroughLoad(t *testing.T) {
	a := DefaultAnswers()
	a.Advisor = config.AdvisorLLM
	a.LLMAPIKey = "sk-test"
	a.Interval = "15m"
	a.CashFloorUSD = "1500"
	a.DCAEnabled = false
	a.TelegramToken = "123:abc"
	a.TelegramChatID = "42"

	path := filepath.Join(t.TempDir(), DefaultOutput)
	require.NoError(t, Write(path, a))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.AdvisorLLM, cfg.Advisor)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 15*time.Minute, cfg.Interval)
	assert.Equal(t, 1500.0, cfg.Guardrails.CashFloorUSD)
	assert.False(t, cfg.DCA.Enabled)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
}

func TestBuild_RulesOmitsLLM(t *testing.T) {
	a := DefaultAnswers()
	a.LLMAPIKey = "ignored"

	tmp, err := Build(a)
	require.NoError(t, err)
	assert.Empty(t, tmp.LLMAPIKey)
	assert.Empty(t, tmp.TelegramEnabledStr)

	a.Interval = "soon"
	_, err = Build(a)
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePair("BTC_USDT"))
	assert.Error(t, validatePair(""))
	assert.Error(t, validatePair("BTCUSDT"))

	assert.NoError(t, validateInterval("5m"))
	assert.Error(t, validateInterval("30s"))
	assert.Error(t, validateInterval("x"))

	assert.NoError(t, validateNonNegative("0"))
	assert.Error(t, validateNonNegative("-1"))
	assert.Error(t, validatePositive("0"))
	assert.NoError(t, validatePositive("0.5"))

	assert.NoError(t, validateConfidence("1"))
	assert.Error(t, validateConfidence("1.01"))
	assert.Error(t, validateConfidence("abc"))
}
