package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"execution-core/pkg/exchanges/common"
)

// markPriceMessage is the payload of <symbol>@markPrice streams.
type markPriceMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func parseMarkPriceMessage(msg []byte) (common.PriceTick, error) {
	var m markPriceMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return common.PriceTick{}, err
	}
	if m.EventType != "markPriceUpdate" {
		return common.PriceTick{}, fmt.Errorf("unexpected event type %q", m.EventType)
	}
	price, err := strconv.ParseFloat(m.MarkPrice, 64)
	if err != nil {
		return common.PriceTick{}, fmt.Errorf("parse mark price %q: %w", m.MarkPrice, err)
	}
	return common.PriceTick{
		Symbol: m.Symbol,
		Price:  price,
		Time:   time.UnixMilli(m.EventTime),
	}, nil
}
