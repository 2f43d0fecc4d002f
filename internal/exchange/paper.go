package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Paper is an in-process venue simulator: orders fill instantly at the
// marked price plus slippage, cash and per-symbol inventory are tracked, and
// duplicate client order IDs are rejected the way a real venue would.
type Paper struct {
	mu            sync.Mutex
	quoteCurrency string
	cash          float64
	slippageBps   float64
	marks         map[string]float64
	inventory     map[string]float64
	orders        map[string]OrderStatus
	clientIDs     map[string]string // client order ID -> order ID

	// nextFillFraction, when set, makes the next order a partial fill.
	nextFillFraction float64
}

// NewPaper builds a simulator seeded with starting cash in the quote currency.
func NewPaper(quoteCurrency string, startingCash, slippageBps float64) *Paper {
	return &Paper{
		quoteCurrency: quoteCurrency,
		cash:          startingCash,
		slippageBps:   slippageBps,
		marks:         make(map[string]float64),
		inventory:     make(map[string]float64),
		orders:        make(map[string]OrderStatus),
		clientIDs:     make(map[string]string),
	}
}

// SetPrice marks a symbol so subsequent orders and Price calls can fill.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.marks[symbol] = price
	p.mu.Unlock()
}

// ForcePartialFill makes the next submitted order fill only the given
// fraction of its quantity.
func (p *Paper) ForcePartialFill(fraction float64) {
	p.mu.Lock()
	p.nextFillFraction = fraction
	p.mu.Unlock()
}

// SubmitOrder fills the request against the current mark.
func (p *Paper) SubmitOrder(_ context.Context, req OrderRequest) (OrderHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientOrderID != "" {
		if id, ok := p.clientIDs[req.ClientOrderID]; ok {
			return OrderHandle{}, NewError(KindDuplicate, "submit", fmt.Errorf("duplicate client order id %s (order %s)", req.ClientOrderID, id))
		}
	}
	if req.Qty <= 0 {
		return OrderHandle{}, NewError(KindRejected, "submit", fmt.Errorf("quantity must be positive"))
	}
	mark, ok := p.marks[req.Symbol]
	if !ok || mark <= 0 {
		return OrderHandle{}, NewError(KindRejected, "submit", fmt.Errorf("no mark price for %s", req.Symbol))
	}

	fillQty := req.Qty
	if p.nextFillFraction > 0 && p.nextFillFraction < 1 {
		fillQty = req.Qty * p.nextFillFraction
		p.nextFillFraction = 0
	}

	price := mark
	slip := mark * p.slippageBps / 10_000
	switch req.Side {
	case Buy:
		price += slip
		if fillQty*price > p.cash {
			return OrderHandle{}, NewError(KindRejected, "submit", fmt.Errorf("insufficient %s balance", p.quoteCurrency))
		}
		p.cash -= fillQty * price
		p.inventory[req.Symbol] += fillQty
	case Sell:
		price -= slip
		if p.inventory[req.Symbol] < fillQty {
			return OrderHandle{}, NewError(KindRejected, "submit", fmt.Errorf("insufficient %s inventory", req.Symbol))
		}
		p.cash += fillQty * price
		p.inventory[req.Symbol] -= fillQty
	default:
		return OrderHandle{}, NewError(KindRejected, "submit", fmt.Errorf("unknown side %q", req.Side))
	}

	id := uuid.NewString()
	state := StateFilled
	if fillQty < req.Qty {
		state = StatePartiallyFilled
	}
	p.orders[id] = OrderStatus{
		State:        state,
		FilledQty:    fillQty,
		AvgFillPrice: price,
		Fees:         fillQty * price * takerFeeRate,
	}
	if req.ClientOrderID != "" {
		p.clientIDs[req.ClientOrderID] = id
	}
	return OrderHandle{ID: id, Symbol: req.Symbol, SubmittedAt: time.Now()}, nil
}

// PollOrder reports the stored terminal status.
func (p *Paper) PollOrder(_ context.Context, handle OrderHandle) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.orders[handle.ID]
	if !ok {
		return OrderStatus{}, NewError(KindRejected, "poll", fmt.Errorf("unknown order %s", handle.ID))
	}
	return status, nil
}

// Balance reports free cash for the quote currency or inventory for a base
// asset.
func (p *Paper) Balance(_ context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if asset == p.quoteCurrency {
		return p.cash, nil
	}
	for symbol, qty := range p.inventory {
		if strings.TrimSuffix(symbol, p.quoteCurrency) == asset {
			return qty, nil
		}
	}
	return 0, nil
}

// Price returns the current mark.
func (p *Paper) Price(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mark, ok := p.marks[symbol]
	if !ok {
		return 0, NewError(KindRejected, "price", fmt.Errorf("no mark price for %s", symbol))
	}
	return mark, nil
}
