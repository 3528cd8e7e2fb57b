package orderbook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/exchangecore/matching-engine/internal/decimal"
)

// toHash renders an Order as the field map persisted at order:{symbol}:{id}.
func toHash(o *Order) map[string]string {
	fields := map[string]string{
		"id":                 o.ID,
		"client_order_id":    o.ClientOrderID,
		"symbol":             o.Symbol,
		"side":               string(o.Side),
		"type":               string(o.Type),
		"amount":             o.Amount.String(),
		"remaining":          o.Remaining.String(),
		"status":             string(o.Status),
		"timestamp":          strconv.FormatInt(o.Timestamp, 10),
		"error":              o.Error,
		"seq":                strconv.FormatInt(o.Seq, 10),
	}
	if o.HasPrice {
		fields["price"] = o.Price.String()
	}
	return fields
}

// fromHash parses the field map read back from the store into an Order.
func fromHash(fields map[string]string) (*Order, error) {
	o := &Order{
		ID:            fields["id"],
		ClientOrderID: fields["client_order_id"],
		Symbol:        fields["symbol"],
		Side:          Side(fields["side"]),
		Type:          Type(fields["type"]),
		Status:        Status(fields["status"]),
		Error:         fields["error"],
	}

	if ts, ok := fields["timestamp"]; ok && ts != "" {
		v, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("orderbook: invalid timestamp %q: %w", ts, err)
		}
		o.Timestamp = v
	}
	if seq, ok := fields["seq"]; ok && seq != "" {
		v, err := strconv.ParseInt(seq, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("orderbook: invalid seq %q: %w", seq, err)
		}
		o.Seq = v
	}

	amount, err := decimal.New(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("orderbook: invalid amount %q: %w", fields["amount"], err)
	}
	o.Amount = amount

	remaining, err := decimal.New(fields["remaining"])
	if err != nil {
		return nil, fmt.Errorf("orderbook: invalid remaining %q: %w", fields["remaining"], err)
	}
	o.Remaining = remaining

	if p, ok := fields["price"]; ok && p != "" {
		price, err := decimal.New(p)
		if err != nil {
			return nil, fmt.Errorf("orderbook: invalid price %q: %w", p, err)
		}
		o.Price = price
		o.HasPrice = true
	}

	return o, nil
}

// tradeJSON is the wire form pushed onto trades:{symbol}.
type tradeJSON struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	BidOrderID string `json:"bid_order_id"`
	AskOrderID string `json:"ask_order_id"`
	Timestamp  int64  `json:"timestamp"`
}

func encodeTrade(t Trade) (string, error) {
	b, err := json.Marshal(tradeJSON{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Price:      t.Price.String(),
		Amount:     t.Amount.String(),
		BidOrderID: t.BidOrderID,
		AskOrderID: t.AskOrderID,
		Timestamp:  t.Timestamp,
	})
	return string(b), err
}

func decodeTrade(raw string) (Trade, error) {
	var tj tradeJSON
	if err := json.Unmarshal([]byte(raw), &tj); err != nil {
		return Trade{}, err
	}
	price, err := decimal.New(tj.Price)
	if err != nil {
		return Trade{}, err
	}
	amount, err := decimal.New(tj.Amount)
	if err != nil {
		return Trade{}, err
	}
	return Trade{
		ID:         tj.ID,
		Symbol:     tj.Symbol,
		Price:      price,
		Amount:     amount,
		BidOrderID: tj.BidOrderID,
		AskOrderID: tj.AskOrderID,
		Timestamp:  tj.Timestamp,
	}, nil
}
