package seq

import "fmt"

// Dimension identifies the physical dimension a Quantity carries.
type Dimension int

const (
	DimNone      Dimension = iota // dimensionless ratio
	DimTime                       // seconds
	DimVoltage                    // volts
	DimFrequency                  // hertz
)

var dimensionNames = [...]string{
	DimNone:      "dimensionless",
	DimTime:      "time",
	DimVoltage:   "voltage",
	DimFrequency: "frequency",
}

func (d Dimension) String() string {
	if int(d) >= 0 && int(d) < len(dimensionNames) {
		return dimensionNames[d]
	}
	return fmt.Sprintf("Dimension(%d)", int(d))
}

// Resolution returns how many scaled integer units make up one SI base unit
// for the dimension. Quantities store scaled integers so that DSL literals
// normalize exactly; timing math accumulates these values and must not drift.
func (d Dimension) Resolution() int64 {
	switch d {
	case DimTime:
		return 1e12 // picoseconds
	case DimVoltage:
		return 1e9 // nanovolts
	case DimFrequency:
		return 1e3 // millihertz
	default:
		return 1e9 // nano-units
	}
}

// Quantity is a unit-tagged number stored as a scaled integer at the
// dimension's resolution. The zero value is a dimensionless zero.
type Quantity struct {
	Value int64 // scaled by Dim.Resolution()
	Dim   Dimension
}

// Picoseconds builds a time quantity from a picosecond count.
func Picoseconds(ps int64) Quantity { return Quantity{Value: ps, Dim: DimTime} }

// Nanoseconds builds a time quantity from a nanosecond count.
func Nanoseconds(ns int64) Quantity { return Quantity{Value: ns * 1000, Dim: DimTime} }

// Microseconds builds a time quantity from a microsecond count.
func Microseconds(us int64) Quantity { return Quantity{Value: us * 1_000_000, Dim: DimTime} }

// Millivolts builds a voltage quantity from a millivolt count.
func Millivolts(mv int64) Quantity { return Quantity{Value: mv * 1_000_000, Dim: DimVoltage} }

// Volts builds a voltage quantity from a whole-volt count.
func Volts(v int64) Quantity { return Quantity{Value: v * 1_000_000_000, Dim: DimVoltage} }

// Megahertz builds a frequency quantity from a megahertz count.
func Megahertz(mhz int64) Quantity { return Quantity{Value: mhz * 1_000_000_000, Dim: DimFrequency} }

// Gigahertz builds a frequency quantity from a gigahertz count.
func Gigahertz(ghz int64) Quantity { return Quantity{Value: ghz * 1_000_000_000_000, Dim: DimFrequency} }

// Scalar builds a dimensionless quantity from a float, rounding to the
// 1e-9 resolution. Intended for tests and preset code, not the parser.
func Scalar(v float64) Quantity {
	return Quantity{Value: int64(v*1e9 + 0.5), Dim: DimNone}
}

// Float returns the quantity in SI base units (seconds, volts, hertz, or a
// plain ratio).
func (q Quantity) Float() float64 {
	return float64(q.Value) / float64(q.Dim.Resolution())
}

// Seconds returns a time quantity in seconds.
func (q Quantity) Seconds() float64 { return float64(q.Value) / 1e12 }

// Volts returns a voltage quantity in volts.
func (q Quantity) Volts() float64 { return float64(q.Value) / 1e9 }

// Hertz returns a frequency quantity in hertz.
func (q Quantity) Hertz() float64 { return float64(q.Value) / 1e3 }

// IsZero reports whether the stored value is exactly zero.
func (q Quantity) IsZero() bool { return q.Value == 0 }

// Add returns q + r. Both quantities must share a dimension; a zero-valued
// dimensionless operand (the Quantity zero value) adopts the other side's
// dimension so uninitialized offsets stay harmless.
func (q Quantity) Add(r Quantity) Quantity {
	if q.Dim != r.Dim {
		if q.Dim == DimNone && q.Value == 0 {
			return r
		}
		if r.Dim == DimNone && r.Value == 0 {
			return q
		}
		panic(fmt.Sprintf("seq: adding %s to %s", r.Dim, q.Dim))
	}
	return Quantity{Value: q.Value + r.Value, Dim: q.Dim}
}

// Sub returns q - r, with the same zero-value tolerance as Add.
func (q Quantity) Sub(r Quantity) Quantity {
	if q.Dim != r.Dim {
		if r.Dim == DimNone && r.Value == 0 {
			return q
		}
		if q.Dim == DimNone && q.Value == 0 {
			return Quantity{Value: -r.Value, Dim: r.Dim}
		}
		panic(fmt.Sprintf("seq: subtracting %s from %s", r.Dim, q.Dim))
	}
	return Quantity{Value: q.Value - r.Value, Dim: q.Dim}
}

// Cmp compares q against r: -1 if q < r, 0 if equal, +1 if q > r.
func (q Quantity) Cmp(r Quantity) int {
	switch {
	case q.Value < r.Value:
		return -1
	case q.Value > r.Value:
		return 1
	default:
		return 0
	}
}

func (q Quantity) String() string {
	switch q.Dim {
	case DimTime:
		return formatScaled(q.Value, 1e12, "s")
	case DimVoltage:
		return formatScaled(q.Value, 1e9, "V")
	case DimFrequency:
		return formatScaled(q.Value, 1e3, "Hz")
	default:
		return formatScaled(q.Value, 1e9, "")
	}
}

// formatScaled prints value/res with trailing zeros trimmed, e.g. 100ns
// prints as "0.0000001s" -> "1e-07s" is avoided; plain decimal keeps error
// messages greppable against the source text.
func formatScaled(value, res int64, suffix string) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	whole := value / res
	frac := value % res
	if frac == 0 {
		return fmt.Sprintf("%s%d%s", sign, whole, suffix)
	}
	digits := 0
	for r := res; r > 1; r /= 10 {
		digits++
	}
	s := fmt.Sprintf("%s%d.%0*d", sign, whole, digits, frac)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s + suffix
}

// SamplesIn converts a duration to a sample count at the given sample rate,
// rounding to the nearest whole sample.
func SamplesIn(dur Quantity, rate Quantity) int64 {
	if dur.Value <= 0 {
		return 0
	}
	n := dur.Seconds()*rate.Hertz() + 0.5
	return int64(n)
}
