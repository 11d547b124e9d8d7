package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Value is a single measurement value, either an arbitrary-precision decimal
// or a plain string. Decimals are preferred for numeric readings to avoid
// accumulating binary floating-point rounding errors in the logs.
type Value struct {
	number decimal.Decimal
	text   string
	isText bool
}

func DecimalValue(d decimal.Decimal) Value {
	return Value{number: d}
}

// NumberValue converts a float64 reading into a decimal value.
func NumberValue(f float64) Value {
	return Value{number: decimal.NewFromFloat(f)}
}

func TextValue(s string) Value {
	return Value{text: s, isText: true}
}

// ParseValue parses an instrument reply. Anything that is not a valid decimal
// is kept as text.
func ParseValue(s string) Value {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return TextValue(s)
	}

	return DecimalValue(d)
}

func (v Value) IsText() bool {
	return v.isText
}

func (v Value) Decimal() decimal.Decimal {
	return v.number
}

func (v Value) String() string {
	if v.isText {
		return v.text
	}

	return v.number.String()
}

// MarshalJSON emits decimals as JSON numbers, not quoted strings, so that
// consumers see `"value": 5.1` rather than `"value": "5.1"`.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isText {
		return json.Marshal(v.text)
	}

	return []byte(v.number.String()), nil
}

// DataEvent is one scalar measurement emitted by a device read. It is
// immutable after construction.
type DataEvent struct {
	Sender    uuid.UUID
	SID       int
	Topic     string
	Value     Value
	Unit      string
	Timestamp time.Time
}

// New creates a DataEvent stamped with the current UTC time.
func New(sender uuid.UUID, sid int, topic string, value Value, unit string) DataEvent {
	return DataEvent{
		Sender:    sender,
		SID:       sid,
		Topic:     topic,
		Value:     value,
		Unit:      unit,
		Timestamp: time.Now().UTC(),
	}
}

func (e DataEvent) String() string {
	return e.Value.String()
}

// Sample is the result of one complete poll round: the flattened, ordered
// events of every device, paired with the round timestamp.
type Sample struct {
	Timestamp time.Time
	Events    []DataEvent
}
