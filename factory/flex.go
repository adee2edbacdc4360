package factory

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexDecimal accepts a JSON number, a numeric string, null, or nothing.
// Present is false when the field was absent or null. Valid is false when
// the value was absent, null, empty or not numeric; Raw keeps the original text.
type FlexDecimal struct {
	decimal.NullDecimal
	Raw     string
	Present bool
}

func (f *FlexDecimal) UnmarshalJSON(data []byte) error {
	*f = FlexDecimal{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	f.Present = true

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	f.Raw = raw
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		// kept as invalid; the engine decides what a bad amount means
		return nil
	}
	f.Decimal = d
	f.Valid = true
	return nil
}

func (f FlexDecimal) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Decimal.String())
}

// OrZero returns the value, or zero when invalid.
func (f FlexDecimal) OrZero() decimal.Decimal {
	if !f.Valid {
		return decimal.Zero
	}
	return f.Decimal
}

func flexOf(d decimal.NullDecimal) FlexDecimal {
	if !d.Valid {
		return FlexDecimal{}
	}
	return FlexDecimal{NullDecimal: d, Raw: d.Decimal.String(), Present: true}
}

// Flex builds a valid FlexDecimal from a decimal string, for tests and scenarios.
func Flex(s string) FlexDecimal {
	var f FlexDecimal
	_ = f.UnmarshalJSON([]byte(`"` + s + `"`))
	return f
}
