package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/btcagent/config"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

// DefaultOutput is the file written by the wizard.
const DefaultOutput = "config.gen.yaml"

const wizardTitle = "BTCAGENT CONFIG WIZARD"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers holds the values collected by the wizard.
type Answers struct {
	Advisor   string
	Execution string
	Pair      string
	Interval  string

	CashFloorUSD     string
	DailyBuyLimitUSD string
	MaxTradeUSD      string
	MinConfidence    string

	DCAEnabled bool
	DCADropPct string
	DCALotUSD  string

	LLMAPIURL string
	LLMAPIKey string
	Model     string

	TelegramToken  string
	TelegramChatID string
}

// DefaultAnswers returns the prefilled form values.
func DefaultAnswers() Answers {
	return Answers{
		Advisor:          config.AdvisorRules,
		Execution:        config.ExecutionPaper,
		Pair:             "BTC_USDT",
		Interval:         "30m",
		CashFloorUSD:     "2000",
		DailyBuyLimitUSD: "5000",
		MaxTradeUSD:      "50",
		MinConfidence:    "0.45",
		DCAEnabled:       true,
		DCADropPct:       "3",
		DCALotUSD:        "50",
		LLMAPIURL:        "https://openrouter.ai/api/v1/chat/completions",
		Model:            "openai/gpt-4o-mini",
	}
}

func step(name string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render(wizardTitle))
	fmt.Println(stepStyle.Render(name))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := DefaultAnswers()
	confirm := false

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(wizardTitle))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Paper trading first, live orders only when you say so.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ADVISOR"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Who proposes trades?").
				Options(
					huh.NewOption("Rules (RSI bands)", config.AdvisorRules),
					huh.NewOption("LLM (OpenAI-compatible API)", config.AdvisorLLM),
				).
				Value(&a.Advisor),
			huh.NewSelect[string]().
				Title("Execution").
				Options(
					huh.NewOption("Paper (ledger only)", config.ExecutionPaper),
					huh.NewOption("Binance spot (live market orders)", config.ExecutionBinance),
				).
				Value(&a.Execution),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: MARKET")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("BASE_QUOTE, e.g. BTC_USDT").
				Value(&a.Pair).
				Validate(validatePair),
			huh.NewInput().
				Title("Tick Interval").
				Description("Duration string (e.g. 5m, 30m, 1h)").
				Value(&a.Interval).
				Validate(validateInterval),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: RISK")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Cash floor, USD").
				Value(&a.CashFloorUSD).
				Validate(validateNonNegative),
			huh.NewInput().
				Title("Daily buy limit, USD").
				Value(&a.DailyBuyLimitUSD).
				Validate(validateNonNegative),
			huh.NewInput().
				Title("Max trade, USD").
				Value(&a.MaxTradeUSD).
				Validate(validatePositive),
			huh.NewInput().
				Title("Min confidence").
				Description("0 to 1").
				Value(&a.MinConfidence).
				Validate(validateConfidence),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: DCA")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable DCA lots on price drops?").
				Value(&a.DCAEnabled),
			huh.NewInput().
				Title("Drop %").
				Value(&a.DCADropPct).
				Validate(validatePositive),
			huh.NewInput().
				Title("Lot, USD").
				Value(&a.DCALotUSD).
				Validate(validatePositive),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.Advisor == config.AdvisorLLM {
		step("STEP 5: LLM")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("LLM API URL").
					Value(&a.LLMAPIURL),
				huh.NewInput().
					Title("LLM API Key").
					Value(&a.LLMAPIKey).
					EchoMode(huh.EchoModePassword),
				huh.NewInput().
					Title("Model Name").
					Value(&a.Model),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	step("STEP 6: ALERTS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Leave empty to disable alerts").
				Value(&a.TelegramToken).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Telegram chat id").
				Value(&a.TelegramChatID),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Advisor: %s\nExecution: %s\nPair: %s\nInterval: %s\nCash floor: %s\nDCA: %t\n",
		a.Advisor, a.Execution, a.Pair, a.Interval, a.CashFloorUSD, a.DCAEnabled,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := Write(path, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

// Build converts answers into the raw yaml document.
func Build(a Answers) (config.ConfigTmp, error) {
	interval, err := time.ParseDuration(a.Interval)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "invalid interval")
	}

	tmp := config.ConfigTmp{
		Pair:                a.Pair,
		Interval:            interval,
		Advisor:             a.Advisor,
		Execution:           a.Execution,
		CashFloorUSDStr:     a.CashFloorUSD,
		DailyBuyLimitUSDStr: a.DailyBuyLimitUSD,
		MaxTradeUSDStr:      a.MaxTradeUSD,
		MinConfidenceStr:    a.MinConfidence,
		DCAEnabledStr:       fmt.Sprintf("%t", a.DCAEnabled),
		DCADropPctStr:       a.DCADropPct,
		DCALotUSDStr:        a.DCALotUSD,
	}
	if a.Advisor == config.AdvisorLLM {
		tmp.LLMAPIURL = a.LLMAPIURL
		tmp.LLMAPIKey = a.LLMAPIKey
		tmp.Model = a.Model
	}
	if a.TelegramToken != "" && a.TelegramChatID != "" {
		tmp.TelegramEnabledStr = "true"
		tmp.TelegramToken = a.TelegramToken
		tmp.TelegramChatID = a.TelegramChatID
	}
	return tmp, nil
}

// Write renders answers as yaml at path, readable by the owner only.
func Write(path string, a Answers) error {
	tmp, err := Build(a)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func validatePair(s string) error {
	if s == "" {
		return errors.New("pair cannot be empty")
	}
	_, err := domain.ParsePair(s)
	return err
}

func validateInterval(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d < time.Minute {
		return errors.New("interval must be at least 1m")
	}
	return nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("must be a valid number")
	}
	return d, nil
}

func validateNonNegative(s string) error {
	d, err := parseDecimal(s)
	if err != nil {
		return err
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := parseDecimal(s)
	if err != nil {
		return err
	}
	if !d.IsPositive() {
		return errors.New("must be greater than 0")
	}
	return nil
}

func validateConfidence(s string) error {
	d, err := parseDecimal(s)
	if err != nil {
		return err
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("must be between 0 and 1")
	}
	return nil
}
