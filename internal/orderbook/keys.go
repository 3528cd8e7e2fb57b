package orderbook

import "fmt"

// Key builders for the store layout authoritative in spec §6. Kept in one
// place so every package that touches these keys (orderbook, processor,
// manager, httpapi) agrees on the exact layout.

func PendingKey(symbol string) string      { return fmt.Sprintf("pending:%s", symbol) }
func FailedOrdersKey(symbol string) string { return fmt.Sprintf("failed_orders:%s", symbol) }
func OrderKey(symbol, id string) string    { return fmt.Sprintf("order:%s:%s", symbol, id) }
func BuyOrdersKey(symbol string) string     { return fmt.Sprintf("%s:buy_orders", symbol) }
func SellOrdersKey(symbol string) string    { return fmt.Sprintf("%s:sell_orders", symbol) }
func TradesKey(symbol string) string        { return fmt.Sprintf("trades:%s", symbol) }

const TradingPairsKey = "trading_pairs"

func MetricsKey(symbol, op string) string { return fmt.Sprintf("metrics:%s:%s", symbol, op) }
func CountKey(symbol, op string) string   { return fmt.Sprintf("count:%s:%s", symbol, op) }

func priceIndexKey(symbol string, side Side) string {
	if side == Buy {
		return BuyOrdersKey(symbol)
	}
	return SellOrdersKey(symbol)
}

func oppositeSide(side Side) Side {
	if side == Buy {
		return Sell
	}
	return Buy
}
