package kiwoomrest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/broker"
	"ktrader/internal/model"
)

// Broker adapts Client to broker.Broker for a single Kiwoom account.
// Every REST call runs through a circuit breaker so a failing gateway
// degrades to ErrConnectionLost instead of hanging the trading loop on
// repeated timeouts, matching the contract's per-call timeout policy.
type Broker struct {
	client    *Client
	accountNo string
	cb        *circuitBreaker

	mu          sync.Mutex
	connected   bool
	errCallback broker.ErrorCallback

	subMu      sync.Mutex
	subscribed map[string]broker.TickCallback
	stopPoll   map[string]chan struct{}
}

// NewBroker constructs a Kiwoom REST broker adapter for the given account.
// trRateLimitMs (mirroring original_source's KiwoomBroker constructor
// argument) sets the circuit breaker's reset timeout to ten times that
// interval, with a floor of one second.
func NewBroker(cfg Config, trRateLimitMs int) *Broker {
	reset := time.Duration(trRateLimitMs) * time.Millisecond * 10
	if reset < time.Second {
		reset = time.Second
	}
	return &Broker{
		client:     New(cfg),
		accountNo:  cfg.AccountNo,
		cb:         newCircuitBreaker(5, reset),
		subscribed: make(map[string]broker.TickCallback),
		stopPoll:   make(map[string]chan struct{}),
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	err := b.cb.execute(func() error { return b.client.Login(ctx) })
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrConnectionLost, err)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	b.subMu.Lock()
	for sym, stop := range b.stopPoll {
		close(stop)
		delete(b.stopPoll, sym)
	}
	b.subscribed = make(map[string]broker.TickCallback)
	b.subMu.Unlock()
	return nil
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Broker) SetErrorCallback(cb broker.ErrorCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCallback = cb
}

func (b *Broker) reportError(err error) {
	b.mu.Lock()
	cb := b.errCallback
	b.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// orderPlaceResponse is the subset of Kiwoom's order-cash response this
// adapter needs.
type orderPlaceResponse struct {
	OrderNo string `json:"ODNO"`
	RtCd    string `json:"rt_cd"`
	Msg     string `json:"msg1"`
}

func (b *Broker) PlaceOrder(ctx context.Context, order model.Order) (string, error) {
	sellBuy := "02"
	if order.Side == model.SideSell {
		sellBuy = "01"
	}
	ordDvsn := "03" // market order
	price := "0"
	if order.OrderType == model.OrderTypeLimit {
		ordDvsn = "00"
		price = order.Price.String()
	}

	body := map[string]any{
		"CANO":        b.accountNo,
		"PDNO":        order.Symbol,
		"ORD_DVSN":    ordDvsn,
		"ORD_QTY":     fmt.Sprintf("%d", order.Quantity),
		"ORD_UNPR":    price,
		"SLL_BUY_DVSN": sellBuy,
	}

	var resp orderPlaceResponse
	err := b.cb.execute(func() error {
		return b.client.post(ctx, "order.place", nil, body, &resp)
	})
	if err != nil {
		return "", classifyError(err)
	}
	if resp.RtCd != "0" {
		return "", &broker.OrderRejectedError{OrderID: order.OrderID, Code: resp.RtCd, Message: resp.Msg}
	}
	return resp.OrderNo, nil
}

func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	body := map[string]any{
		"CANO":      b.accountNo,
		"ORGN_ODNO": brokerOrderID,
		"RVSE_CNCL_DVSN_CD": "02", // cancel
	}
	var resp orderPlaceResponse
	err := b.cb.execute(func() error {
		return b.client.post(ctx, "order.cancel", nil, body, &resp)
	})
	if err != nil {
		return false, classifyError(err)
	}
	return resp.RtCd == "0", nil
}

func (b *Broker) AmendOrder(ctx context.Context, brokerOrderID string, req broker.AmendRequest) (bool, error) {
	body := map[string]any{
		"CANO":              b.accountNo,
		"ORGN_ODNO":         brokerOrderID,
		"RVSE_CNCL_DVSN_CD": "01", // amend
	}
	if req.Quantity != nil {
		body["ORD_QTY"] = fmt.Sprintf("%d", *req.Quantity)
	}
	if req.Price != nil {
		body["ORD_UNPR"] = req.Price.String()
	}

	var resp orderPlaceResponse
	err := b.cb.execute(func() error {
		return b.client.post(ctx, "order.amend", nil, body, &resp)
	})
	if err != nil {
		return false, classifyError(err)
	}
	return resp.RtCd == "0", nil
}

type balanceRow struct {
	Symbol       string `json:"pdno"`
	Quantity     string `json:"hldg_qty"`
	AvgPrice     string `json:"pchs_avg_pric"`
	CurrentPrice string `json:"prpr"`
}

type balanceResponse struct {
	Positions []balanceRow `json:"output1"`
	Summary   []struct {
		TotalEquity   string `json:"tot_evlu_amt"`
		AvailableCash string `json:"prvs_rcdl_excc_amt"`
		UnrealizedPnL string `json:"evlu_pfls_smtl_amt"`
	} `json:"output2"`
}

func (b *Broker) fetchAccountSnapshot(ctx context.Context) (balanceResponse, error) {
	q := url.Values{"CANO": {b.accountNo}}
	var resp balanceResponse
	err := b.cb.execute(func() error {
		return b.client.get(ctx, "account.balance", "TTTC8434R", q, &resp)
	})
	return resp, err
}

func (b *Broker) FetchPositions(ctx context.Context) ([]model.Position, error) {
	resp, err := b.fetchAccountSnapshot(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]model.Position, 0, len(resp.Positions))
	for _, row := range resp.Positions {
		qty := parseInt(row.Quantity)
		if qty <= 0 {
			continue
		}
		out = append(out, model.Position{
			Symbol:       row.Symbol,
			Quantity:     qty,
			AvgPrice:     parseDecimal(row.AvgPrice),
			CurrentPrice: parseDecimal(row.CurrentPrice),
			UpdatedAt:    time.Now(),
		})
	}
	return out, nil
}

func (b *Broker) FetchBalance(ctx context.Context) (broker.Balance, error) {
	resp, err := b.fetchAccountSnapshot(ctx)
	if err != nil {
		return broker.Balance{}, classifyError(err)
	}
	if len(resp.Summary) == 0 {
		return broker.Balance{}, nil
	}
	s := resp.Summary[0]
	return broker.Balance{
		TotalEquity:   parseDecimal(s.TotalEquity),
		AvailableCash: parseDecimal(s.AvailableCash),
		UnrealizedPnL: parseDecimal(s.UnrealizedPnL),
	}, nil
}

type openOrderRow struct {
	OrderNo        string `json:"odno"`
	Symbol         string `json:"pdno"`
	Side           string `json:"sll_buy_dvsn_cd"`
	Quantity       string `json:"ord_qty"`
	FilledQuantity string `json:"tot_ccld_qty"`
	Price          string `json:"ord_unpr"`
}

type openOrdersResponse struct {
	Orders []openOrderRow `json:"output"`
}

func (b *Broker) FetchOpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	q := url.Values{"CANO": {b.accountNo}}
	var resp openOrdersResponse
	err := b.cb.execute(func() error {
		return b.client.get(ctx, "order.book", "TTTC8036R", q, &resp)
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]broker.OpenOrder, 0, len(resp.Orders))
	for _, row := range resp.Orders {
		side := model.SideSell
		if row.Side == "02" {
			side = model.SideBuy
		}
		out = append(out, broker.OpenOrder{
			BrokerOrderID:  row.OrderNo,
			Symbol:         row.Symbol,
			Side:           side,
			Quantity:       parseInt(row.Quantity),
			FilledQuantity: parseInt(row.FilledQuantity),
			Price:          parseDecimal(row.Price),
		})
	}
	return out, nil
}

type quoteResponse struct {
	Output struct {
		Price  string `json:"stck_prpr"`
		Volume string `json:"acml_vol"`
	} `json:"output"`
}

// quote fetches the current price/volume for symbol, used both by
// SubscribeMarketData's polling loop and directly by callers that just
// need a point-in-time quote.
func (b *Broker) quote(ctx context.Context, symbol string) (model.Tick, error) {
	q := url.Values{"FID_COND_MRKT_DIV_CODE": {"J"}, "FID_INPUT_ISCD": {symbol}}
	var resp quoteResponse
	err := b.cb.execute(func() error {
		return b.client.get(ctx, "market.quote", "FHKST01010100", q, &resp)
	})
	if err != nil {
		return model.Tick{}, classifyError(err)
	}
	return model.NewTick(symbol, parseDecimal(resp.Output.Price), parseInt(resp.Output.Volume), time.Now())
}

// SubscribeMarketData starts a polling goroutine per symbol. Kiwoom's REST
// gateway favors request/response over a public push feed outside its
// Windows OCX control; polling at a fixed interval is the documented
// fallback and keeps this adapter free of a second transport stack.
func (b *Broker) SubscribeMarketData(ctx context.Context, symbols []string, cb broker.TickCallback) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, sym := range symbols {
		if _, ok := b.subscribed[sym]; ok {
			continue
		}
		b.subscribed[sym] = cb
		stop := make(chan struct{})
		b.stopPoll[sym] = stop
		go b.pollQuotes(sym, cb, stop)
	}
	return nil
}

func (b *Broker) UnsubscribeMarketData(ctx context.Context, symbols []string) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, sym := range symbols {
		delete(b.subscribed, sym)
		if stop, ok := b.stopPoll[sym]; ok {
			close(stop)
			delete(b.stopPoll, sym)
		}
	}
	return nil
}

func (b *Broker) pollQuotes(symbol string, cb broker.TickCallback, stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tick, err := b.quote(context.Background(), symbol)
			if err != nil {
				b.reportError(fmt.Errorf("kiwoomrest: poll %s: %w", symbol, err))
				continue
			}
			cb(tick)
		}
	}
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if err == errCircuitOpen {
		return fmt.Errorf("%w: %v", broker.ErrConnectionLost, err)
	}
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		return &broker.RateLimitError{RetryAfter: time.Second}
	}
	return fmt.Errorf("%w: %v", broker.ErrOther, err)
}

func parseInt(s string) int64 {
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ broker.Broker = (*Broker)(nil)
