package ledger

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Number decodes any JSON value into a decimal. Numbers and numeric strings
// are parsed; null, empty and non-numeric input become zero.
type Number struct {
	decimal.Decimal
}

func (n *Number) UnmarshalJSON(data []byte) error {
	n.Decimal = decimal.Zero
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		text = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	}
	if d, err := decimal.NewFromString(text); err == nil {
		n.Decimal = d
	}
	return nil
}

// Int decodes any JSON value into an integer, truncating fractions.
type Int int64

func (i *Int) UnmarshalJSON(data []byte) error {
	var n Number
	_ = n.UnmarshalJSON(data)
	*i = Int(n.IntPart())
	return nil
}

// Text decodes strings, numbers and booleans into their textual form. Ids
// written by browser clients are often bare numbers.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			*t = Text(strings.TrimSpace(s))
		}
	case '{', '[':
	default:
		var f json.Number
		if err := json.Unmarshal(raw, &f); err == nil {
			*t = Text(f.String())
			return nil
		}
		if b, err := strconv.ParseBool(string(raw)); err == nil {
			*t = Text(strconv.FormatBool(b))
		}
	}
	return nil
}
