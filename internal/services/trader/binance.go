package trader

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/btcagent/internal/domain"
	"go.uber.org/zap"
)

const (
	clientOrderPrefix = "btcagent-"
	// DefaultMinNotionalUSD orders below this are skipped by the live executor.
	DefaultMinNotionalUSD = 5.0
)

// ErrBelowMinNotional is returned for orders too small for the exchange.
var ErrBelowMinNotional = errors.New("order below exchange min notional")

// BinanceExecutor places a MARKET order on Binance spot and books the fill in the ledger.
// BUYs are sized by quote amount, SELLs by base quantity.
type BinanceExecutor struct {
	client         *binance.Client
	pair           domain.Pair
	ledger         tradeApplier
	minNotionalUSD float64
	logger         *zap.Logger
}

// NewBinanceExecutor creates a live executor.
func NewBinanceExecutor(logger *zap.Logger, client *binance.Client, pair domain.Pair, ledger tradeApplier, minNotionalUSD float64) *BinanceExecutor {
	if minNotionalUSD <= 0 {
		minNotionalUSD = DefaultMinNotionalUSD
	}
	return &BinanceExecutor{
		client:         client,
		pair:           pair,
		ledger:         ledger,
		minNotionalUSD: minNotionalUSD,
		logger:         logger,
	}
}

// Name implements Executor.
func (e *BinanceExecutor) Name() string { return "binance" }

// Execute implements Executor.
func (e *BinanceExecutor) Execute(ctx context.Context, o Order) (domain.TradeRecord, error) {
	notional := o.Notional()
	if notional < e.minNotionalUSD {
		return domain.TradeRecord{}, errors.Wrapf(ErrBelowMinNotional, "$%.2f < $%.2f", notional, e.minNotionalUSD)
	}

	clientOrderID := clientOrderPrefix + uuid.NewString()
	svc := e.client.NewCreateOrderService().
		Symbol(binanceSymbol(e.pair)).
		Type(binance.OrderTypeMarket).
		NewClientOrderID(clientOrderID)

	if o.Side == domain.SideBuy {
		quote := decimal.NewFromFloat(notional).RoundFloor(2)
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(quote.String())
	} else {
		qty := decimal.NewFromFloat(o.Qty).RoundFloor(5)
		svc = svc.Side(binance.SideTypeSell).Quantity(qty.String())
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.TradeRecord{}, errors.Wrapf(err, "binance %s order failed", o.Side)
	}

	price, qty, err := fillOf(resp, o.Price)
	if err != nil {
		return domain.TradeRecord{}, err
	}

	e.logger.Info("Binance order filled",
		zap.String("client_order_id", clientOrderID),
		zap.String("side", string(o.Side)),
		zap.Float64("price", price),
		zap.Float64("qty", qty),
		zap.String("status", string(resp.Status)))

	note := o.Note
	if note == "" {
		note = clientOrderID
	}
	rec, err := e.ledger.ApplyTrade(o.Side, price, qty, o.Source, note)
	if err != nil {
		// the exchange already filled; the ledger is now behind the account
		return domain.TradeRecord{}, errors.Wrapf(err, "order %s filled but ledger update failed", clientOrderID)
	}

	return rec, nil
}

// fillOf average fill price and executed quantity. fallback is used when the
// response carries no quote total.
func fillOf(resp *binance.CreateOrderResponse, fallback float64) (float64, float64, error) {
	qty, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to parse executed quantity")
	}
	if !qty.IsPositive() {
		return 0, 0, errors.Errorf("order %s not filled (status %s)", resp.ClientOrderID, resp.Status)
	}

	quote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil || !quote.IsPositive() {
		return fallback, qty.InexactFloat64(), nil
	}

	return quote.Div(qty).InexactFloat64(), qty.InexactFloat64(), nil
}

func binanceSymbol(p domain.Pair) string {
	if p.To == "USD" {
		p.To = "USDT"
	}
	return fmt.Sprintf("%s%s", p.From, p.To)
}
