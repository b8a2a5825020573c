package aggregator

import (
	"math"
	"strconv"

	"github.com/yanun0323/errors"
)

// Value is a derived metric that may be undefined. Undefined values encode
// as JSON null; +Inf encodes as the string "inf".
type Value struct {
	V     float64
	Valid bool
}

// Some returns a defined value.
func Some(v float64) Value { return Value{V: v, Valid: true} }

// Float returns the value and whether it is defined and finite.
func (v Value) Float() (float64, bool) {
	if !v.Valid || math.IsInf(v.V, 0) || math.IsNaN(v.V) {
		return 0, false
	}
	return v.V, true
}

// IsInf reports a defined, infinite value.
func (v Value) IsInf() bool {
	return v.Valid && math.IsInf(v.V, 0)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case !v.Valid || math.IsNaN(v.V):
		return []byte("null"), nil
	case math.IsInf(v.V, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v.V, -1):
		return []byte(`"-inf"`), nil
	default:
		return strconv.AppendFloat(nil, v.V, 'g', -1, 64), nil
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	switch s := string(b); s {
	case "null":
		*v = Value{}
	case `"inf"`:
		*v = Some(math.Inf(1))
	case `"-inf"`:
		*v = Some(math.Inf(-1))
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Wrapf(err, "decode metric value %s", s)
		}
		*v = Some(f)
	}
	return nil
}
