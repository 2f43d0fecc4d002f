package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// takerFeeRate approximates Binance spot taker fees for the PnL estimate;
// exact commissions require a separate trade-list call per order.
const takerFeeRate = 0.001

// Binance implements Exchange against the Binance spot REST API. All calls
// pass through a token-bucket rate limiter and a circuit breaker so a
// misbehaving venue degrades into fast transient failures instead of piling
// up blocked cycles.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewBinance builds the spot connector. Testnet routing is process-wide in
// the underlying client library.
func NewBinance(apiKey, apiSecret string, testnet bool, rps float64, burst int, log zerolog.Logger) *Binance {
	binance.UseTestnet = testnet
	settings := gobreaker.Settings{
		Name:    "binance",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Binance{
		client:  binance.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

func (b *Binance) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindTransient, op, err)
	}
	out, err := b.breaker.Execute(fn)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// classify maps library errors onto the venue error taxonomy.
func classify(op string, err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return NewError(KindTransient, op, err)
	}
	var apiErr *common.APIError
	if common.IsAPIError(err) {
		apiErr = err.(*common.APIError)
		switch {
		case strings.Contains(apiErr.Message, "Duplicate order"):
			return NewError(KindDuplicate, op, err)
		case apiErr.Code == -1003 || apiErr.Code == -1015: // rate limit / too many orders
			return NewError(KindTransient, op, err)
		default:
			return NewError(KindRejected, op, err)
		}
	}
	// Transport-level failures (timeouts, resets) are retryable.
	return NewError(KindTransient, op, err)
}

// SubmitOrder places a market (or limit, when PriceBound is set) order with
// the idempotency key as the client order ID.
func (b *Binance) SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	out, err := b.call(ctx, "submit", func() (any, error) {
		svc := b.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(binance.SideType(req.Side)).
			NewClientOrderID(req.ClientOrderID).
			Quantity(strconv.FormatFloat(req.Qty, 'f', -1, 64))
		if req.PriceBound > 0 {
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Price(strconv.FormatFloat(req.PriceBound, 'f', -1, 64))
		} else {
			svc = svc.Type(binance.OrderTypeMarket)
		}
		return svc.Do(ctx)
	})
	if err != nil {
		return OrderHandle{}, err
	}
	resp := out.(*binance.CreateOrderResponse)
	return OrderHandle{
		ID:          strconv.FormatInt(resp.OrderID, 10),
		Symbol:      req.Symbol,
		SubmittedAt: time.Now(),
	}, nil
}

// PollOrder fetches the current state of a previously submitted order.
func (b *Binance) PollOrder(ctx context.Context, handle OrderHandle) (OrderStatus, error) {
	id, err := strconv.ParseInt(handle.ID, 10, 64)
	if err != nil {
		return OrderStatus{}, NewError(KindRejected, "poll", fmt.Errorf("bad order id %q: %w", handle.ID, err))
	}
	out, err := b.call(ctx, "poll", func() (any, error) {
		return b.client.NewGetOrderService().Symbol(handle.Symbol).OrderID(id).Do(ctx)
	})
	if err != nil {
		return OrderStatus{}, err
	}
	order := out.(*binance.Order)

	filled, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	status := OrderStatus{FilledQty: filled}
	if filled > 0 {
		status.AvgFillPrice = quote / filled
		status.Fees = quote * takerFeeRate
	}
	switch order.Status {
	case binance.OrderStatusTypeFilled:
		status.State = StateFilled
	case binance.OrderStatusTypePartiallyFilled:
		status.State = StatePartiallyFilled
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		status.State = StateNew
	default: // canceled, rejected, expired
		status.State = StateRejected
	}
	return status, nil
}

// Balance returns the free amount of the given asset.
func (b *Binance) Balance(ctx context.Context, asset string) (float64, error) {
	out, err := b.call(ctx, "balance", func() (any, error) {
		return b.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return 0, err
	}
	account := out.(*binance.Account)
	for _, bal := range account.Balances {
		if bal.Asset == asset {
			free, err := strconv.ParseFloat(bal.Free, 64)
			if err != nil {
				return 0, NewError(KindRejected, "balance", fmt.Errorf("bad balance %q: %w", bal.Free, err))
			}
			return free, nil
		}
	}
	return 0, nil
}

// Price returns the last traded price for symbol.
func (b *Binance) Price(ctx context.Context, symbol string) (float64, error) {
	out, err := b.call(ctx, "price", func() (any, error) {
		return b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return 0, err
	}
	prices := out.([]*binance.SymbolPrice)
	if len(prices) == 0 {
		return 0, NewError(KindRejected, "price", fmt.Errorf("no price for %s", symbol))
	}
	px, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, NewError(KindRejected, "price", fmt.Errorf("bad price %q: %w", prices[0].Price, err))
	}
	return px, nil
}
