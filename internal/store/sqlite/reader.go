package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/model"
)

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (s *Store) GetCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`, symbol, int64(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var tfRaw int64
		var openTimeUnix int64
		var openStr, highStr, lowStr, closeStr string
		if err := rows.Scan(&c.Symbol, &tfRaw, &openTimeUnix, &openStr, &highStr, &lowStr, &closeStr, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite: scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(tfRaw)
		c.OpenTime = time.Unix(openTimeUnix, 0).UTC()
		c.Open, c.High, c.Low, c.Close = parseDecimal(openStr), parseDecimal(highStr), parseDecimal(lowStr), parseDecimal(closeStr)
		out = append(out, c)
	}
	// results come back newest-first; reverse to ascending for callers that
	// feed them straight into an indicator window.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *Store) scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var o model.Order
	var side, orderType, status string
	var price string
	var brokerOrderID, rejectReason sql.NullString
	var signalID sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&o.OrderID, &signalID, &o.Symbol, &side, &orderType, &o.Quantity, &o.FilledQuantity,
		&price, &brokerOrderID, &status, &rejectReason, &createdAt, &updatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.SignalID = signalID.String
	o.Side = model.Side(side)
	o.OrderType = model.OrderType(orderType)
	o.Price = parseDecimal(price)
	o.BrokerOrderID = brokerOrderID.String
	o.Status = model.OrderStatus(status)
	o.RejectReason = rejectReason.String
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return o, nil
}

const orderColumns = `order_id, signal_id, symbol, side, order_type, quantity, filled_quantity,
	price, broker_order_id, status, reject_reason, created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, orderID string) (model.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := s.scanOrder(row)
	if err == sql.ErrNoRows {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, fmt.Errorf("sqlite: get order: %w", err)
	}
	return o, true, nil
}

func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (model.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE broker_order_id = ?`, brokerOrderID)
	o, err := s.scanOrder(row)
	if err == sql.ErrNoRows {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, fmt.Errorf("sqlite: get order by broker id: %w", err)
	}
	return o, true, nil
}

func (s *Store) GetOpenOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status IN (?, ?, ?)`,
		string(model.OrderPendingNew), string(model.OrderSubmitted), string(model.OrderPartialFill))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query open orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan open order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CountOrdersToday(ctx context.Context, now time.Time) (int, error) {
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Unix()
	dayEnd := time.Date(y, m, d, 23, 59, 59, 0, now.Location()).Unix()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE created_at >= ? AND created_at <= ?
	`, dayStart, dayEnd).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count orders today: %w", err)
	}
	return count, nil
}

func (s *Store) GetFillsForOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fill_id, order_id, broker_fill_id, quantity, price, commission, filled_at
		FROM fills WHERE order_id = ? ORDER BY filled_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query fills: %w", err)
	}
	defer rows.Close()

	var out []model.Fill
	for rows.Next() {
		var f model.Fill
		var brokerFillID sql.NullString
		var price, commission string
		var filledAt int64
		if err := rows.Scan(&f.FillID, &f.OrderID, &brokerFillID, &f.Quantity, &price, &commission, &filledAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan fill: %w", err)
		}
		f.BrokerFillID = brokerFillID.String
		f.Price = parseDecimal(price)
		f.Commission = parseDecimal(commission)
		f.FilledAt = time.Unix(filledAt, 0).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, current_price, updated_at FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var avgPrice, currentPrice string
		var updatedAt int64
		if err := rows.Scan(&p.Symbol, &p.Quantity, &avgPrice, &currentPrice, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		p.AvgPrice = parseDecimal(avgPrice)
		p.CurrentPrice = parseDecimal(currentPrice)
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetUnfinishedRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, ended_at, status, error_message
		FROM bot_runs WHERE status = ?
	`, string(model.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query unfinished runs: %w", err)
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var startedAt int64
		var endedAt sql.NullInt64
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &startedAt, &endedAt, &status, &errMsg); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		if endedAt.Valid {
			t := time.Unix(endedAt.Int64, 0).UTC()
			r.EndedAt = &t
		}
		r.Status = model.RunStatus(status)
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}
