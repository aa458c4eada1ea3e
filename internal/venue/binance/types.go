package binance

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
)

type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e APIError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type orderResponse struct {
	Symbol             string `json:"symbol"`
	OrderID            int64  `json:"orderId"`
	Price              string `json:"price"`
	OrigQty            string `json:"origQty"`
	ExecutedQty        string `json:"executedQty"`
	CumulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status             string `json:"status"`
	Side               string `json:"side"`
	Type               string `json:"type"`
	TransactTime       int64  `json:"transactTime"`
	Time               int64  `json:"time"`
}

func (r orderResponse) toOrder(nativeSymbol string) core.Order {
	price, _ := decimal.NewFromString(r.Price)
	amount, _ := decimal.NewFromString(r.OrigQty)
	filled, _ := decimal.NewFromString(r.ExecutedQty)
	quote, _ := decimal.NewFromString(r.CumulativeQuoteQty)
	average := decimal.Zero
	if filled.Cmp(decimal.Zero) > 0 {
		average = quote.Div(filled)
	}
	created := r.TransactTime
	if created == 0 {
		created = r.Time
	}
	return core.Order{
		ID:        strconv.FormatInt(r.OrderID, 10),
		Symbol:    nativeSymbol,
		Side:      core.Side(strings.ToLower(r.Side)),
		Type:      core.OrderType(strings.ToLower(r.Type)),
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Remaining: amount.Sub(filled),
		Average:   average,
		Status:    mapOrderStatus(r.Status),
		CreatedAt: time.UnixMilli(created).UTC(),
	}
}

func mapOrderStatus(status string) core.OrderStatus {
	switch status {
	case "FILLED":
		return core.OrderFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return core.OrderCanceled
	case "REJECTED":
		return core.OrderRejected
	default:
		return core.OrderOpen
	}
}

type exchangeInfoResponse struct {
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolInfoResponse struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Filters    []struct {
		FilterType  string `json:"filterType"`
		MinQty      string `json:"minQty"`
		StepSize    string `json:"stepSize"`
		MinNotional string `json:"minNotional"`
	} `json:"filters"`
}

type symbolInfo struct {
	baseAsset  string
	quoteAsset string
	rules      core.Rules
}

func parseSymbolInfo(src symbolInfoResponse) symbolInfo {
	info := symbolInfo{
		baseAsset:  src.BaseAsset,
		quoteAsset: src.QuoteAsset,
		rules:      core.Rules{MinQty: decimal.Zero, MinNotional: decimal.Zero, QtyStep: decimal.Zero},
	}
	for _, f := range src.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if f.MinQty != "" {
				if v, err := decimal.NewFromString(f.MinQty); err == nil {
					info.rules.MinQty = v
				}
			}
			if f.StepSize != "" {
				if v, err := decimal.NewFromString(f.StepSize); err == nil {
					info.rules.QtyStep = v
				}
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if f.MinNotional != "" {
				if v, err := decimal.NewFromString(f.MinNotional); err == nil {
					// Keep the stricter minimum when both filter variants appear.
					if v.Cmp(info.rules.MinNotional) > 0 {
						info.rules.MinNotional = v
					}
				}
			}
		}
	}
	return info
}
