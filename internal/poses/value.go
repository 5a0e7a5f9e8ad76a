package poses

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the type of a score cell or column.
type Kind uint8

const (
	// KindMissing is the kind of an absent cell and of a column that has
	// only ever held absent cells.
	KindMissing Kind = iota
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "missing"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "number":
		return KindNumber, nil
	case "text":
		return KindText, nil
	case "missing", "":
		return KindMissing, nil
	}
	return KindMissing, fmt.Errorf("unknown column kind %q", value)
}

// Value is a single score cell. The zero Value is Missing.
type Value struct {
	kind Kind
	num  float64
	text string
}

// Missing returns the absent-value marker.
func Missing() Value { return Value{} }

// Number wraps f. NaN is treated as Missing.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// Text wraps s. The empty string is treated as Missing.
func Text(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{kind: KindText, text: s}
}

// ValueOf converts a decoded score into a Value.
func ValueOf(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Missing(), nil
	case Value:
		return v, nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Missing(), fmt.Errorf("score %q: %w", v.String(), err)
		}
		return Number(f), nil
	case string:
		return Text(v), nil
	case bool:
		if v {
			return Number(1), nil
		}
		return Number(0), nil
	}
	return Missing(), fmt.Errorf("unsupported score type %T", raw)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Float returns the number and whether v holds one.
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Str returns the text and whether v holds text.
func (v Value) Str() (string, bool) { return v.text, v.kind == KindText }

// Interface returns float64, string, or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	}
	return nil
}

// String renders v for tables and CSV cells. Missing renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindText:
		return v.text
	}
	return ""
}

func (v Value) Equal(other Value) bool {
	return v.kind == other.kind && v.num == other.num && v.text == other.text
}

// compare orders Missing after every present value.
func compare(a, b Value) int {
	switch {
	case a.IsMissing() && b.IsMissing():
		return 0
	case a.IsMissing():
		return 1
	case b.IsMissing():
		return -1
	}
	if a.kind == KindNumber && b.kind == KindNumber {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	}
	return strings.Compare(a.String(), b.String())
}
