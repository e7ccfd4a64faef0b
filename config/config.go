package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/services/guardrails"
	"github.com/vadiminshakov/btcagent/internal/services/strategy/dca"
)

// Advisor and execution modes.
const (
	AdvisorRules = "rules"
	AdvisorLLM   = "llm"

	ExecutionPaper   = "paper"
	ExecutionBinance = "binance"
)

const (
	defaultPair            = "BTC_USDT"
	defaultInterval        = 30 * time.Minute
	defaultCandleMinutes   = 30
	defaultLookbackDays    = 30
	defaultFeedOrder       = "binance,bybit,hyperliquid,cache"
	defaultLLMAPIURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel           = "openai/gpt-4o-mini"
	defaultLeaseKey        = "btcagent:lease"
	defaultLeaseTTL        = 2 * time.Minute
	defaultWebAddr         = ":8080"
	defaultHyperliquidURL  = "https://api.hyperliquid.xyz"
	defaultSlopeMinBps     = 2.0
	defaultADXMin          = 18.0
	defaultRegimeMinHours  = 36
	defaultMaxTradeUSD     = 50
	defaultLLMSizeUSD      = 300
	defaultStopATRK        = 1.3
	defaultMinNotionalUSD  = 5
	defaultFeeBps          = 10
	defaultCooldownMinutes = 5
)

var truthy = map[string]bool{"1": true, "true": true, "yes": true, "on": true, "y": true, "t": true}

// Config holds the typed agent configuration.
type Config struct {
	Pair           domain.Pair
	// Interval between ticks.
	Interval       time.Duration
	CandleMinutes  int
	LookbackDays   int
	StateDir       string
	JournalDir     string
	CacheDir       string
	FeedOrder      []string
	FeeBps         decimal.Decimal
	MaxTradeUSD    decimal.Decimal
	MinNotionalUSD decimal.Decimal
	Execution      string
	Advisor        string
	LLM            LLMConfig
	Guardrails     guardrails.Config
	Regime         RegimeConfig
	DCA            dca.Config
	Binance        Credentials
	Bybit          Credentials
	Hyperliquid    HyperliquidConfig
	Telegram       TelegramConfig
	Redis          RedisConfig
	WebAddr        string
	// WebTLSDomains switches the status server to HTTPS with ACME certificates.
	WebTLSDomains  []string
	WebCertCache   string
}

// LLMConfig OpenAI-compatible advisor settings.
type LLMConfig struct {
	APIURL   string
	APIKey   string
	Model    string
	SizeUSD  decimal.Decimal
	StopATRK decimal.Decimal
}

// RegimeConfig defines the regime detector thresholds.
type RegimeConfig struct {
	SlopeMinBps float64
	ADXMin      float64
	MinHours    int
}

// Credentials holds exchange API keys.
type Credentials struct {
	APIKey    string
	APISecret string
}

// HyperliquidConfig Hyperliquid access.
type HyperliquidConfig struct {
	PrivateKey string
	BaseURL    string
}

// TelegramConfig configures trade alerts.
type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  string
}

// RedisConfig configures the single-writer lease. Empty Addr disables the lease.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LeaseKey string
	LeaseTTL time.Duration
}

// ConfigTmp represents the raw yaml document. Numbers are kept as strings and validated in Load.
type ConfigTmp struct {
	Pair              string        `yaml:"pair"`
	Interval          time.Duration `yaml:"interval,omitempty"`
	CandleMinutesStr  string        `yaml:"candle_interval_minutes,omitempty"`
	LookbackDaysStr   string        `yaml:"lookback_days,omitempty"`
	StateDir          string        `yaml:"state_dir,omitempty"`
	JournalDir        string        `yaml:"journal_dir,omitempty"`
	CacheDir          string        `yaml:"cache_dir,omitempty"`
	FeedOrder         string        `yaml:"feed_order,omitempty"`
	FeeBpsStr         string        `yaml:"fee_bps,omitempty"`
	MaxTradeUSDStr    string        `yaml:"max_trade_usd,omitempty"`
	MinNotionalUSDStr string        `yaml:"min_notional_usd,omitempty"`
	Execution         string        `yaml:"execution,omitempty"`
	Advisor           string        `yaml:"advisor,omitempty"`

	LLMAPIURL      string `yaml:"llm_api_url,omitempty"`
	LLMAPIKey      string `yaml:"llm_api_key,omitempty"`
	Model          string `yaml:"model,omitempty"`
	LLMSizeUSDStr  string `yaml:"llm_size_usd,omitempty"`
	LLMStopATRKStr string `yaml:"llm_stop_atr_k,omitempty"`

	GlobalPauseStr      string `yaml:"global_pause,omitempty"`
	MinConfidenceStr    string `yaml:"min_confidence,omitempty"`
	MaxPositionPctStr   string `yaml:"max_position_pct,omitempty"`
	DailyLossCapUSDStr  string `yaml:"daily_loss_cap_usd,omitempty"`
	MaxDailyLossPctStr  string `yaml:"max_daily_loss_pct,omitempty"`
	EquityRefUSDStr     string `yaml:"equity_ref_usd,omitempty"`
	CashFloorUSDStr     string `yaml:"cash_floor_usd,omitempty"`
	DailyBuyLimitUSDStr string `yaml:"daily_buy_limit_usd,omitempty"`
	CooldownMinStr      string `yaml:"cooldown_min,omitempty"`
	AllowSideSwitchStr  string `yaml:"allow_side_switch,omitempty"`
	MaxDailyTradesStr   string `yaml:"max_daily_trades,omitempty"`
	BullBuyConfStr      string `yaml:"bull_buy_conf,omitempty"`
	BullSellConfStr     string `yaml:"bull_sell_conf,omitempty"`
	BearBuyConfStr      string `yaml:"bear_buy_conf,omitempty"`
	BearSellConfStr     string `yaml:"bear_sell_conf,omitempty"`
	ChopConfReqStr      string `yaml:"chop_conf_req,omitempty"`
	ChopSkipStr         string `yaml:"chop_skip,omitempty"`

	SlopeMinBpsStr    string `yaml:"regime_slope_min_bps,omitempty"`
	ADXMinStr         string `yaml:"regime_adx_min,omitempty"`
	RegimeMinHoursStr string `yaml:"regime_min_hours,omitempty"`

	DCAEnabledStr     string `yaml:"dca_enabled,omitempty"`
	DCADropPctStr     string `yaml:"dca_drop_pct,omitempty"`
	DCALotUSDStr      string `yaml:"dca_lot_usd,omitempty"`
	DCACooldownMinStr string `yaml:"dca_cooldown_min,omitempty"`

	BinanceAPIKey         string `yaml:"binance_api_key,omitempty"`
	BinanceAPISecret      string `yaml:"binance_api_secret,omitempty"`
	BybitAPIKey           string `yaml:"bybit_api_key,omitempty"`
	BybitAPISecret        string `yaml:"bybit_api_secret,omitempty"`
	HyperliquidPrivateKey string `yaml:"hyperliquid_private_key,omitempty"`
	HyperliquidURL        string `yaml:"hyperliquid_url,omitempty"`

	TelegramEnabledStr string `yaml:"telegram_enabled,omitempty"`
	TelegramToken      string `yaml:"telegram_token,omitempty"`
	TelegramChatID     string `yaml:"telegram_chat_id,omitempty"`

	RedisAddr     string        `yaml:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDBStr    string        `yaml:"redis_db,omitempty"`
	LeaseKey      string        `yaml:"lease_key,omitempty"`
	LeaseTTL      time.Duration `yaml:"lease_ttl,omitempty"`

	WebAddr       string `yaml:"web_addr,omitempty"`
	WebTLSDomains string `yaml:"web_tls_domains,omitempty"`
	WebCertCache  string `yaml:"web_cert_cache,omitempty"`
}

// envOverrides maps environment variables onto raw config fields. The first set variable wins.
func envOverrides(c *ConfigTmp) []struct {
	names []string
	field *string
} {
	return []struct {
		names []string
		field *string
	}{
		{[]string{"SYMBOL"}, &c.Pair},
		{[]string{"INTERVAL_MINUTES"}, &c.CandleMinutesStr},
		{[]string{"LOOKBACK_DAYS"}, &c.LookbackDaysStr},
		{[]string{"STATE_DIR"}, &c.StateDir},
		{[]string{"FEED_ORDER"}, &c.FeedOrder},
		{[]string{"FEE_BPS"}, &c.FeeBpsStr},
		{[]string{"MAX_TRADE_USD"}, &c.MaxTradeUSDStr},
		{[]string{"ORDER_MIN_NOTIONAL_USD", "BUY_MIN_USD"}, &c.MinNotionalUSDStr},
		{[]string{"EXECUTION"}, &c.Execution},
		{[]string{"ADVISOR_MODEL"}, &c.Advisor},
		{[]string{"LLM_API_URL"}, &c.LLMAPIURL},
		{[]string{"LLM_API_KEY"}, &c.LLMAPIKey},
		{[]string{"OPENAI_MODEL"}, &c.Model},
		{[]string{"LLM_SIZE_USD"}, &c.LLMSizeUSDStr},
		{[]string{"LLM_STOP_ATR_K_DEFAULT"}, &c.LLMStopATRKStr},
		{[]string{"GLOBAL_PAUSE"}, &c.GlobalPauseStr},
		{[]string{"LLM_MIN_CONFIDENCE"}, &c.MinConfidenceStr},
		{[]string{"MAX_POSITION_PCT"}, &c.MaxPositionPctStr},
		{[]string{"DAILY_LOSS_CAP_USD"}, &c.DailyLossCapUSDStr},
		{[]string{"MAX_DAILY_LOSS_PCT"}, &c.MaxDailyLossPctStr},
		{[]string{"EQUITY_REF_USD"}, &c.EquityRefUSDStr},
		{[]string{"CASH_FLOOR_USD"}, &c.CashFloorUSDStr},
		{[]string{"DAILY_BUY_LIMIT_USD"}, &c.DailyBuyLimitUSDStr},
		{[]string{"COOLDOWN_MIN"}, &c.CooldownMinStr},
		{[]string{"ALLOW_SIDE_SWITCH"}, &c.AllowSideSwitchStr},
		{[]string{"MAX_DAILY_TRADES", "MAX_TRADES_PER_DAY"}, &c.MaxDailyTradesStr},
		{[]string{"BULL_BUY_CONF"}, &c.BullBuyConfStr},
		{[]string{"BULL_SELL_CONF"}, &c.BullSellConfStr},
		{[]string{"BEAR_BUY_CONF"}, &c.BearBuyConfStr},
		{[]string{"BEAR_SELL_CONF"}, &c.BearSellConfStr},
		{[]string{"CHOP_CONF_REQ"}, &c.ChopConfReqStr},
		{[]string{"CHOP_SKIP"}, &c.ChopSkipStr},
		{[]string{"REGIME_MIN_HOURS"}, &c.RegimeMinHoursStr},
		{[]string{"ADX_TREND_MIN"}, &c.ADXMinStr},
		{[]string{"DCA_ENABLED"}, &c.DCAEnabledStr},
		{[]string{"DCA_DROP_PCT"}, &c.DCADropPctStr},
		{[]string{"DCA_LOT_USD"}, &c.DCALotUSDStr},
		{[]string{"DCA_MIN_COOLDOWN_MIN"}, &c.DCACooldownMinStr},
		{[]string{"BINANCE_API_KEY"}, &c.BinanceAPIKey},
		{[]string{"BINANCE_API_SECRET"}, &c.BinanceAPISecret},
		{[]string{"BYBIT_API_KEY"}, &c.BybitAPIKey},
		{[]string{"BYBIT_API_SECRET"}, &c.BybitAPISecret},
		{[]string{"HYPERLIQUID_PRIVATE_KEY"}, &c.HyperliquidPrivateKey},
		{[]string{"TELEGRAM_ENABLED"}, &c.TelegramEnabledStr},
		{[]string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN"}, &c.TelegramToken},
		{[]string{"TELEGRAM_CHAT_ID"}, &c.TelegramChatID},
		{[]string{"REDIS_ADDR"}, &c.RedisAddr},
		{[]string{"REDIS_PASSWORD"}, &c.RedisPassword},
		{[]string{"WEB_ADDR"}, &c.WebAddr},
		{[]string{"WEB_TLS_DOMAINS"}, &c.WebTLSDomains},
	}
}

// Load reads the yaml file at path (optional), applies env overrides and validates the result.
func Load(path string) (Config, error) {
	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, errors.Wrap(err, "parse yaml config")
		}
	}
	applyEnv(&tmp)
	return tmp.Parse()
}

func applyEnv(c *ConfigTmp) {
	for _, o := range envOverrides(c) {
		for _, name := range o.names {
			if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
				*o.field = strings.TrimSpace(v)
				break
			}
		}
	}
}

// Parse validates raw values and fills defaults.
func (c ConfigTmp) Parse() (Config, error) {
	p := &parser{}

	pairStr := c.Pair
	if pairStr == "" {
		pairStr = defaultPair
	}
	pair, err := domain.ParsePair(pairStr)
	if err != nil {
		return Config{}, errors.Wrapf(err, "incorrect 'pair' param in yaml config: %s", c.Pair)
	}

	gr := guardrails.DefaultConfig()
	gr.GlobalPause = p.bool("global_pause", c.GlobalPauseStr, false)
	gr.MinConfidence = p.float("min_confidence", c.MinConfidenceStr, gr.MinConfidence)
	gr.MaxPositionPct = p.float("max_position_pct", c.MaxPositionPctStr, gr.MaxPositionPct)
	gr.LossCap = guardrails.LossCap{
		AbsUSD:       p.float("daily_loss_cap_usd", c.DailyLossCapUSDStr, 0),
		Pct:          p.float("max_daily_loss_pct", c.MaxDailyLossPctStr, 0),
		RefEquityUSD: p.float("equity_ref_usd", c.EquityRefUSDStr, 0),
	}
	gr.CashFloorUSD = p.float("cash_floor_usd", c.CashFloorUSDStr, gr.CashFloorUSD)
	gr.DailyBuyLimitUSD = p.float("daily_buy_limit_usd", c.DailyBuyLimitUSDStr, gr.DailyBuyLimitUSD)
	gr.SideCooldown = p.minutes("cooldown_min", c.CooldownMinStr, defaultCooldownMinutes)
	gr.AllowSideSwitch = p.bool("allow_side_switch", c.AllowSideSwitchStr, gr.AllowSideSwitch)
	gr.MaxTradesPerDay = p.int("max_daily_trades", c.MaxDailyTradesStr, 0)
	gr.Regime = guardrails.Thresholds{
		BullBuy:  p.float("bull_buy_conf", c.BullBuyConfStr, gr.Regime.BullBuy),
		BullSell: p.float("bull_sell_conf", c.BullSellConfStr, gr.Regime.BullSell),
		BearBuy:  p.float("bear_buy_conf", c.BearBuyConfStr, gr.Regime.BearBuy),
		BearSell: p.float("bear_sell_conf", c.BearSellConfStr, gr.Regime.BearSell),
		Chop:     p.float("chop_conf_req", c.ChopConfReqStr, gr.Regime.Chop),
		ChopSkip: p.bool("chop_skip", c.ChopSkipStr, false),
	}

	dc := dca.DefaultConfig()
	dc.Enabled = p.bool("dca_enabled", c.DCAEnabledStr, dc.Enabled)
	dc.DropPct = p.float("dca_drop_pct", c.DCADropPctStr, dc.DropPct)
	dc.LotUSD = p.float("dca_lot_usd", c.DCALotUSDStr, dc.LotUSD)
	dc.Cooldown = p.minutes("dca_cooldown_min", c.DCACooldownMinStr, int(dc.Cooldown/time.Minute))

	cfg := Config{
		Pair:           pair,
		Interval:       orDuration(c.Interval, defaultInterval),
		CandleMinutes:  p.int("candle_interval_minutes", c.CandleMinutesStr, defaultCandleMinutes),
		LookbackDays:   p.int("lookback_days", c.LookbackDaysStr, defaultLookbackDays),
		StateDir:       c.StateDir,
		JournalDir:     c.JournalDir,
		CacheDir:       c.CacheDir,
		FeedOrder:      splitList(orString(c.FeedOrder, defaultFeedOrder)),
		FeeBps:         p.decimal("fee_bps", c.FeeBpsStr, defaultFeeBps),
		MaxTradeUSD:    p.decimal("max_trade_usd", c.MaxTradeUSDStr, defaultMaxTradeUSD),
		MinNotionalUSD: p.decimal("min_notional_usd", c.MinNotionalUSDStr, defaultMinNotionalUSD),
		Execution:      strings.ToLower(orString(c.Execution, ExecutionPaper)),
		Advisor:        strings.ToLower(orString(c.Advisor, AdvisorRules)),
		LLM: LLMConfig{
			APIURL:   orString(c.LLMAPIURL, defaultLLMAPIURL),
			APIKey:   c.LLMAPIKey,
			Model:    orString(c.Model, defaultModel),
			SizeUSD:  p.decimal("llm_size_usd", c.LLMSizeUSDStr, defaultLLMSizeUSD),
			StopATRK: p.decimal("llm_stop_atr_k", c.LLMStopATRKStr, defaultStopATRK),
		},
		Guardrails: gr,
		Regime: RegimeConfig{
			SlopeMinBps: p.float("regime_slope_min_bps", c.SlopeMinBpsStr, defaultSlopeMinBps),
			ADXMin:      p.float("regime_adx_min", c.ADXMinStr, defaultADXMin),
			MinHours:    p.int("regime_min_hours", c.RegimeMinHoursStr, defaultRegimeMinHours),
		},
		DCA:     dc,
		Binance: Credentials{APIKey: c.BinanceAPIKey, APISecret: c.BinanceAPISecret},
		Bybit:   Credentials{APIKey: c.BybitAPIKey, APISecret: c.BybitAPISecret},
		Hyperliquid: HyperliquidConfig{
			PrivateKey: c.HyperliquidPrivateKey,
			BaseURL:    orString(c.HyperliquidURL, defaultHyperliquidURL),
		},
		Telegram: TelegramConfig{
			Enabled: p.bool("telegram_enabled", c.TelegramEnabledStr, false),
			Token:   c.TelegramToken,
			ChatID:  c.TelegramChatID,
		},
		Redis: RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       p.int("redis_db", c.RedisDBStr, 0),
			LeaseKey: orString(c.LeaseKey, defaultLeaseKey),
			LeaseTTL: orDuration(c.LeaseTTL, defaultLeaseTTL),
		},
		WebAddr:       orString(c.WebAddr, defaultWebAddr),
		WebTLSDomains: splitList(c.WebTLSDomains),
		WebCertCache:  c.WebCertCache,
	}
	if p.err != nil {
		return Config{}, p.err
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.CandleMinutes <= 0:
		return errors.New("incorrect 'candle_interval_minutes' param in yaml config (must be positive)")
	case c.LookbackDays <= 0:
		return errors.New("incorrect 'lookback_days' param in yaml config (must be positive)")
	case c.Interval <= 0:
		return errors.New("incorrect 'interval' param in yaml config (must be positive)")
	case len(c.FeedOrder) == 0:
		return errors.New("incorrect 'feed_order' param in yaml config (no sources)")
	case !c.MaxTradeUSD.IsPositive():
		return errors.New("incorrect 'max_trade_usd' param in yaml config (must be positive)")
	case c.FeeBps.IsNegative():
		return errors.New("incorrect 'fee_bps' param in yaml config (must not be negative)")
	}

	for name, v := range map[string]float64{
		"min_confidence": c.Guardrails.MinConfidence,
		"bull_buy_conf":  c.Guardrails.Regime.BullBuy,
		"bull_sell_conf": c.Guardrails.Regime.BullSell,
		"bear_buy_conf":  c.Guardrails.Regime.BearBuy,
		"bear_sell_conf": c.Guardrails.Regime.BearSell,
		"chop_conf_req":  c.Guardrails.Regime.Chop,
	} {
		if v < 0 || v > 1 {
			return errors.Errorf("incorrect '%s' param in yaml config (must be within [0, 1])", name)
		}
	}

	switch c.Advisor {
	case AdvisorRules:
	case AdvisorLLM:
		if c.LLM.APIKey == "" {
			return errors.New("incorrect 'llm_api_key' param in yaml config (required for llm advisor)")
		}
	default:
		return errors.Errorf("incorrect 'advisor' param in yaml config: %s (rules or llm)", c.Advisor)
	}

	switch c.Execution {
	case ExecutionPaper:
	case ExecutionBinance:
		if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
			return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET must be set for binance execution")
		}
	default:
		return errors.Errorf("incorrect 'execution' param in yaml config: %s (paper or binance)", c.Execution)
	}

	return nil
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) fail(name, format string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "incorrect '%s' param in yaml config (%s)", name, format)
	}
}

func (p *parser) decimal(name, raw string, def float64) decimal.Decimal {
	if raw == "" {
		return decimal.NewFromFloat(def)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(name, "must be a decimal", err)
		return decimal.Zero
	}
	return d
}

func (p *parser) float(name, raw string, def float64) float64 {
	return p.decimal(name, raw, def).InexactFloat64()
}

func (p *parser) int(name, raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(name, "must be an integer", err)
		return 0
	}
	return v
}

func (p *parser) minutes(name, raw string, def int) time.Duration {
	d := p.decimal(name, raw, float64(def))
	return time.Duration(d.Mul(decimal.NewFromInt(int64(time.Minute))).IntPart())
}

func (p *parser) bool(name, raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v := strings.ToLower(strings.TrimSpace(raw))
	if truthy[v] {
		return true
	}
	switch v {
	case "0", "false", "no", "off", "n", "f":
		return false
	}
	p.fail(name, "must be a boolean", errors.Errorf("unexpected value %q", raw))
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
