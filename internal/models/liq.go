package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimestampLayout renders liquidation times at second precision in UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// Quantity holds a size or price exactly as the venue sent it. A quoted
// value stays quoted and a bare number stays a number when re-encoded.
type Quantity struct {
	raw json.RawMessage
}

// NewQuantity copies raw so later changes to the source do not leak in.
func NewQuantity(raw json.RawMessage) Quantity {
	return Quantity{raw: append(json.RawMessage(nil), bytes.TrimSpace(raw)...)}
}

// String returns the value without JSON quoting.
func (q Quantity) String() string {
	if len(q.raw) > 0 && q.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(q.raw, &s); err == nil {
			return s
		}
	}
	return string(q.raw)
}

func (q Quantity) IsZero() bool {
	return len(q.raw) == 0
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if len(q.raw) == 0 {
		return []byte("null"), nil
	}
	return append([]byte(nil), q.raw...), nil
}

// LiquidationRecord is one normalised forced-closure event. Values are
// copied on construction and never modified afterwards.
type LiquidationRecord struct {
	Timestamp string   `json:"timestamp"`
	Symbol    string   `json:"symbol"`
	Side      string   `json:"side"`
	Size      Quantity `json:"size"`
	Price     Quantity `json:"price"`
}

func NewLiquidationRecord(eventTimeMs int64, symbol, side string, size, price Quantity) LiquidationRecord {
	return LiquidationRecord{
		Timestamp: FormatEventTime(eventTimeMs),
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Price:     price,
	}
}

// FormatEventTime converts epoch milliseconds to TimestampLayout in UTC.
func FormatEventTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimestampLayout)
}
