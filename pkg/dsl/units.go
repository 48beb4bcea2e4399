package dsl

import (
	"fmt"
	"math"

	"awgc/pkg/seq"
)

// UnknownUnitError reports a numeric literal with an unrecognized suffix.
type UnknownUnitError struct {
	Unit string
	Line int
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit '%s' on line %d", e.Unit, e.Line)
}

// unitSpec maps a suffix to its dimension and the power of ten from one
// suffix unit to the dimension's storage resolution (e.g. 1 ns = 10^3 ps).
type unitSpec struct {
	dim seq.Dimension
	pow int
}

var unitTable = map[string]unitSpec{
	"ns":  {seq.DimTime, 3},
	"us":  {seq.DimTime, 6},
	"µs":  {seq.DimTime, 6},
	"ms":  {seq.DimTime, 9},
	"s":   {seq.DimTime, 12},
	"mV":  {seq.DimVoltage, 6},
	"V":   {seq.DimVoltage, 9},
	"Hz":  {seq.DimFrequency, 3},
	"kHz": {seq.DimFrequency, 6},
	"MHz": {seq.DimFrequency, 9},
	"GHz": {seq.DimFrequency, 12},
}

// ParseQuantity converts a DSL literal such as "100ns", "-0.5V" or "1.5GHz"
// into a scaled-integer Quantity. Normalization is exact: literals finer
// than the storage resolution or outside the int64 range are rejected
// rather than truncated, since timing math accumulates these values.
func ParseQuantity(token string, line int) (seq.Quantity, error) {
	numEnd := len(token)
	for numEnd > 0 {
		c := token[numEnd-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		numEnd--
	}
	num, suffix := token[:numEnd], token[numEnd:]

	spec := unitSpec{seq.DimNone, 9}
	if suffix != "" {
		s, ok := unitTable[suffix]
		if !ok {
			return seq.Quantity{}, &UnknownUnitError{Unit: suffix, Line: line}
		}
		spec = s
	}

	mant, fracDigits, err := parseDecimal(num)
	if err != nil {
		return seq.Quantity{}, fmt.Errorf("%s on line %d: %q", err, line, token)
	}

	pow := spec.pow - fracDigits
	if pow < 0 {
		div := pow10(-pow)
		if mant%div != 0 {
			return seq.Quantity{}, fmt.Errorf("literal %q on line %d is finer than the %s resolution",
				token, line, spec.dim)
		}
		return seq.Quantity{Value: mant / div, Dim: spec.dim}, nil
	}

	mul := pow10(pow)
	if mant != 0 && (mant > math.MaxInt64/mul || mant < math.MinInt64/mul) {
		return seq.Quantity{}, fmt.Errorf("literal %q on line %d overflows the %s range",
			token, line, spec.dim)
	}
	return seq.Quantity{Value: mant * mul, Dim: spec.dim}, nil
}

// parseDecimal reads an optionally signed decimal number and returns its
// digits as an integer plus the count of fractional digits. "1.25" yields
// (125, 2). Exponent notation is not part of the grammar.
func parseDecimal(s string) (mant int64, fracDigits int, err error) {
	if s == "" {
		return 0, 0, fmt.Errorf("malformed number")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, 0, fmt.Errorf("malformed number")
	}

	seenDot := false
	seenDigit := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if seenDot {
				return 0, 0, fmt.Errorf("malformed number")
			}
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("malformed number")
		}
		seenDigit = true
		d := int64(c - '0')
		if mant > (math.MaxInt64-d)/10 {
			return 0, 0, fmt.Errorf("number overflows")
		}
		mant = mant*10 + d
		if seenDot {
			fracDigits++
		}
	}
	if !seenDigit {
		return 0, 0, fmt.Errorf("malformed number")
	}
	if neg {
		mant = -mant
	}
	return mant, fracDigits, nil
}

func pow10(n int) int64 {
	p := int64(1)
	for ; n > 0; n-- {
		p *= 10
	}
	return p
}
