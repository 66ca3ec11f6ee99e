package bybit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	metrics "liqstream/internal/metrics"
	"liqstream/internal/models"
)

type frameKind int

const (
	frameEvents frameKind = iota
	frameAck
	frameNoData
	frameMalformed
)

type subscriptionAck struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	ReqID   string `json:"req_id"`
}

type elementDrop struct {
	reason metrics.DropMetric
	symbol string
	err    error
}

type frameResult struct {
	kind    frameKind
	topic   string
	records []models.LiquidationRecord
	drops   []elementDrop
	ack     subscriptionAck
	err     error
}

// event times must render as a four-digit year
const (
	minEpochMillis = -62135596800000 // 0001-01-01T00:00:00Z
	maxEpochMillis = 253402300799999 // 9999-12-31T23:59:59.999Z
)

// liquidation element keys as sent on allLiquidation.<symbol>
const (
	keyTime   = "T"
	keySymbol = "s"
	keySide   = "S"
	keySize   = "v"
	keyPrice  = "p"
)

// parseFrame decodes one websocket frame. Elements of a "data" array are
// mapped independently so one bad element never discards its siblings.
func parseFrame(msg []byte) frameResult {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(msg, &top); err != nil || top == nil {
		if err == nil {
			err = fmt.Errorf("frame is not an object")
		}
		return frameResult{kind: frameMalformed, err: err}
	}

	var topic string
	if raw, ok := present(top, "topic"); ok {
		if err := json.Unmarshal(raw, &topic); err != nil {
			return frameResult{kind: frameMalformed, err: fmt.Errorf("topic: %w", err)}
		}
	}

	data, ok := top["data"]
	if !ok || !isArray(data) {
		if _, isOp := top["op"]; isOp {
			var ack subscriptionAck
			if err := json.Unmarshal(msg, &ack); err != nil {
				return frameResult{kind: frameMalformed, err: err}
			}
			return frameResult{kind: frameAck, topic: topic, ack: ack}
		}
		return frameResult{kind: frameNoData, topic: topic}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return frameResult{kind: frameMalformed, topic: topic, err: err}
	}

	res := frameResult{
		kind:    frameEvents,
		topic:   topic,
		records: make([]models.LiquidationRecord, 0, len(elements)),
	}
	for _, el := range elements {
		rec, drop, ok := parseElement(el)
		if !ok {
			res.drops = append(res.drops, drop)
			continue
		}
		res.records = append(res.records, rec)
	}
	return res
}

func parseElement(el json.RawMessage) (models.LiquidationRecord, elementDrop, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(el, &fields); err != nil || fields == nil {
		return models.LiquidationRecord{}, elementDrop{reason: metrics.DropMetricInvalidField, err: fmt.Errorf("element is not an object")}, false
	}

	var symbol string
	if raw, ok := present(fields, keySymbol); ok {
		if err := json.Unmarshal(raw, &symbol); err != nil {
			return models.LiquidationRecord{}, elementDrop{reason: metrics.DropMetricInvalidField, err: fmt.Errorf("field %s: %w", keySymbol, err)}, false
		}
	}

	for _, key := range []string{keyTime, keySymbol, keySide, keySize, keyPrice} {
		if _, ok := present(fields, key); !ok {
			return models.LiquidationRecord{}, elementDrop{reason: metrics.DropMetricMissingField, symbol: symbol, err: fmt.Errorf("missing field %s", key)}, false
		}
	}

	invalid := func(key string, err error) (models.LiquidationRecord, elementDrop, bool) {
		return models.LiquidationRecord{}, elementDrop{reason: metrics.DropMetricInvalidField, symbol: symbol, err: fmt.Errorf("field %s: %w", key, err)}, false
	}

	eventTime, err := parseEpochMillis(fields[keyTime])
	if err != nil {
		return invalid(keyTime, err)
	}
	var side string
	if err := json.Unmarshal(fields[keySide], &side); err != nil {
		return invalid(keySide, err)
	}
	if !isScalarQuantity(fields[keySize]) {
		return invalid(keySize, fmt.Errorf("expected string or number"))
	}
	if !isScalarQuantity(fields[keyPrice]) {
		return invalid(keyPrice, fmt.Errorf("expected string or number"))
	}

	rec := models.NewLiquidationRecord(
		eventTime,
		symbol,
		side,
		models.NewQuantity(fields[keySize]),
		models.NewQuantity(fields[keyPrice]),
	)
	return rec, elementDrop{}, true
}

// present treats an explicit JSON null the same as an absent key.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok {
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// parseEpochMillis accepts a JSON integer, a float or a quoted number, as
// long as it falls between years 1 and 9999.
func parseEpochMillis(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if ms, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		if ms < minEpochMillis || ms > maxEpochMillis {
			return 0, fmt.Errorf("epoch millis %d out of range", ms)
		}
		return ms, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f < minEpochMillis || f > maxEpochMillis {
		return 0, fmt.Errorf("epoch millis %s out of range", n.String())
	}
	return int64(f), nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isScalarQuantity(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch c := raw[0]; {
	case c == '"':
		return true
	case c == '-' || (c >= '0' && c <= '9'):
		return true
	}
	return false
}
