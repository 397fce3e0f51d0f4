// Package mock implements broker.Broker entirely in memory, for
// --broker mock and for every component test that needs a broker double.
// Grounded on original_source/app.py's MockBroker: a fixed starting
// balance, auto-filled market orders, and a simulated tick generator
// adapted from the teacher's cmd/tickserver random-walk demo for use in
// --mode test.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/broker"
	"ktrader/internal/model"
)

// Broker is an in-memory broker double. Safe for concurrent use.
type Broker struct {
	mu          sync.Mutex
	connected   bool
	orderSeq    int
	balance     broker.Balance
	positions   map[string]model.Position
	openOrders  map[string]broker.OpenOrder
	errCallback broker.ErrorCallback

	subscribed map[string]broker.TickCallback
	stopSim    map[string]chan struct{}

	// FillPrice, when set, is used as the fill price for market orders
	// instead of the order's own limit price; simulates "current market
	// price" for test scenarios that never feed real ticks.
	FillPrice decimal.Decimal

	// SlippageBps simulates adverse execution: a buy fills slippageBps/10000
	// above the quoted price and a sell fills the same amount below it.
	// Zero disables slippage simulation.
	SlippageBps int64
}

// New constructs a mock broker with a fixed starting balance, matching
// original_source/app.py's MockBroker defaults.
func New() *Broker {
	return &Broker{
		balance: broker.Balance{
			TotalEquity:   decimal.NewFromInt(10_000_000),
			AvailableCash: decimal.NewFromInt(10_000_000),
		},
		positions:  make(map[string]model.Position),
		openOrders: make(map[string]broker.OpenOrder),
		subscribed: make(map[string]broker.TickCallback),
		stopSim:    make(map[string]chan struct{}),
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	for sym, stop := range b.stopSim {
		close(stop)
		delete(b.stopSim, sym)
	}
	return nil
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// PlaceOrder immediately fills the order in full at the order's price (or
// FillPrice if the order carries none), matching a simple market-order
// simulator.
func (b *Broker) PlaceOrder(ctx context.Context, order model.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orderSeq++
	brokerOrderID := fmt.Sprintf("MOCK-%d", b.orderSeq)

	price := order.Price
	if price.IsZero() {
		price = b.FillPrice
	}
	price = b.withSlippage(order.Side, price)

	b.openOrders[brokerOrderID] = broker.OpenOrder{
		BrokerOrderID:  brokerOrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		FilledQuantity: order.Quantity,
		Price:          price,
	}
	return brokerOrderID, nil
}

// withSlippage nudges price against the order's side by SlippageBps/10000,
// matching the teacher's paper-trading executor: a buy fills higher, a sell
// fills lower, so the simulation never flatters a strategy's backtested edge.
func (b *Broker) withSlippage(side model.Side, price decimal.Decimal) decimal.Decimal {
	if b.SlippageBps <= 0 || price.IsZero() {
		return price
	}
	slip := price.Mul(decimal.NewFromInt(b.SlippageBps)).Div(decimal.NewFromInt(10000))
	if side == model.SideBuy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}

func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.openOrders[brokerOrderID]; !ok {
		return false, nil
	}
	delete(b.openOrders, brokerOrderID)
	return true, nil
}

func (b *Broker) AmendOrder(ctx context.Context, brokerOrderID string, req broker.AmendRequest) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.openOrders[brokerOrderID]
	if !ok {
		return false, nil
	}
	if req.Quantity != nil {
		o.Quantity = *req.Quantity
	}
	if req.Price != nil {
		o.Price = *req.Price
	}
	b.openOrders[brokerOrderID] = o
	return true, nil
}

func (b *Broker) FetchPositions(ctx context.Context) ([]model.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) FetchOpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OpenOrder, 0, len(b.openOrders))
	for _, o := range b.openOrders {
		out = append(out, o)
	}
	return out, nil
}

func (b *Broker) FetchBalance(ctx context.Context) (broker.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

// SubscribeMarketData starts a random-walk tick generator per symbol,
// adapted from the teacher's cmd/tickserver demo, for use under
// --mode test where no real market data exists.
func (b *Broker) SubscribeMarketData(ctx context.Context, symbols []string, cb broker.TickCallback) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := b.subscribed[sym]; ok {
			continue
		}
		b.subscribed[sym] = cb
		stop := make(chan struct{})
		b.stopSim[sym] = stop
		go simulateTicks(sym, cb, stop)
	}
	return nil
}

func (b *Broker) UnsubscribeMarketData(ctx context.Context, symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range symbols {
		delete(b.subscribed, sym)
		if stop, ok := b.stopSim[sym]; ok {
			close(stop)
			delete(b.stopSim, sym)
		}
	}
	return nil
}

func (b *Broker) SetErrorCallback(cb broker.ErrorCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCallback = cb
}

// PutPosition seeds a position directly, for tests that need a known
// starting portfolio.
func (b *Broker) PutPosition(p model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.Symbol] = p
}

func simulateTicks(symbol string, cb broker.TickCallback, stop chan struct{}) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(hash(symbol))))
	price := decimal.NewFromInt(50_000)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			delta := decimal.NewFromFloat((rng.Float64() - 0.5) * 200)
			price = price.Add(delta)
			if price.Sign() <= 0 {
				price = decimal.NewFromInt(100)
			}
			tk, err := model.NewTick(symbol, price, int64(rng.Intn(50)+1), time.Now())
			if err != nil {
				continue
			}
			cb(tk)
		}
	}
}

func hash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
