package seq

import "fmt"

// Shape tags the analytic form of a pulse envelope.
type Shape int

const (
	ShapeSquare Shape = iota
	ShapeGaussian
	ShapeSech
	ShapeLorentzian
	ShapeSine
	ShapeWave // external waveform reference
)

var shapeNames = [...]string{
	ShapeSquare:     "square",
	ShapeGaussian:   "gaussian",
	ShapeSech:       "sech",
	ShapeLorentzian: "lorentzian",
	ShapeSine:       "sine",
	ShapeWave:       "wave",
}

func (s Shape) String() string {
	if int(s) >= 0 && int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// Ref is a field value that is either a literal quantity or a reference to a
// declared variable, resolved once per scan point.
type Ref struct {
	Var string   // variable name; empty for a literal
	Lit Quantity // literal value when Var == ""
}

// Lit wraps a literal quantity into a Ref.
func Lit(q Quantity) Ref { return Ref{Lit: q} }

// VarRef builds a Ref naming a variable.
func VarRef(name string) Ref { return Ref{Var: name} }

// IsVar reports whether the Ref names a variable.
func (r Ref) IsVar() bool { return r.Var != "" }

// Variable is a declared scan or loop variable generating Steps values from
// Start to Stop inclusive.
type Variable struct {
	Name  string
	Start Quantity
	Stop  Quantity
	Steps int
	Line  int
}

// Values generates the concrete value list of length Steps. With a single
// step only Start is produced; otherwise values are evenly spaced from Start
// to Stop, rounded to the dimension resolution.
func (v *Variable) Values() []Quantity {
	if v.Steps <= 1 {
		return []Quantity{v.Start}
	}
	out := make([]Quantity, v.Steps)
	span := v.Stop.Value - v.Start.Value
	for i := 0; i < v.Steps; i++ {
		num := span * int64(i)
		den := int64(v.Steps - 1)
		step := num / den
		if rem := num % den; rem*2 >= den {
			step++
		} else if rem*2 <= -den {
			step--
		}
		out[i] = Quantity{Value: v.Start.Value + step, Dim: v.Start.Dim}
	}
	return out
}

// Node is implemented by every ordered element of a sequence body:
// pulses, loops, and conditionals.
type Node interface {
	node()
}

// Pulse is a single output pulse on one channel. Start, Dur, Amp and Freq
// may each reference a variable by name.
type Pulse struct {
	Channel int
	Shape   Shape
	Start   Ref // time offset from sequence origin
	Dur     Ref
	Amp     Ref
	Freq    Ref    // sine only; zero means one period per pulse
	WaveRef string // ShapeWave only: name of the external waveform
	Line    int
}

func (*Pulse) node() {}

// Loop repeats its body once per value of the named variable, laid out
// sequentially. The loop variable is consumed by the loop and does not
// contribute to the scan cartesian product.
type Loop struct {
	Var  string
	Body []Node
	Line int
}

func (*Loop) node() {}

// CmpOp is a comparison operator in a conditional predicate.
type CmpOp int

const (
	CmpLess CmpOp = iota
	CmpLessEq
	CmpGreater
	CmpGreaterEq
	CmpEq
	CmpNotEq
)

var cmpNames = [...]string{
	CmpLess:      "<",
	CmpLessEq:    "<=",
	CmpGreater:   ">",
	CmpGreaterEq: ">=",
	CmpEq:        "==",
	CmpNotEq:     "!=",
}

func (op CmpOp) String() string {
	if int(op) >= 0 && int(op) < len(cmpNames) {
		return cmpNames[op]
	}
	return fmt.Sprintf("CmpOp(%d)", int(op))
}

// Eval applies the comparison to two quantities of the same dimension.
func (op CmpOp) Eval(a, b Quantity) bool {
	c := a.Cmp(b)
	switch op {
	case CmpLess:
		return c < 0
	case CmpLessEq:
		return c <= 0
	case CmpGreater:
		return c > 0
	case CmpGreaterEq:
		return c >= 0
	case CmpEq:
		return c == 0
	default:
		return c != 0
	}
}

// Conditional selects Then or Else once per scan point by comparing the
// named variable's resolved value against a threshold.
type Conditional struct {
	Var       string
	Op        CmpOp
	Threshold Quantity
	Then      []Node
	Else      []Node
	Line      int
}

func (*Conditional) node() {}

// SequenceDescription is the parsed, immutable intermediate representation
// of one DSL source: header metadata plus the ordered body nodes.
type SequenceDescription struct {
	Name       string
	Type       string
	Duration   Quantity // nominal total duration
	SampleRate Quantity
	Repeat     int // experiment statistics count; never memory compression
	Variables  []*Variable
	Body       []Node
}

// Variable returns the declared variable with the given name, or nil.
func (d *SequenceDescription) Variable(name string) *Variable {
	for _, v := range d.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// ConcretePulse is a fully resolved pulse with absolute timing.
type ConcretePulse struct {
	Channel int
	Shape   Shape
	Start   Quantity // absolute, after the timing fold
	Dur     Quantity
	Amp     Quantity
	Freq    Quantity
	WaveRef string
	Line    int
}

// End returns the absolute end time of the pulse.
func (p ConcretePulse) End() Quantity { return p.Start.Add(p.Dur) }

// ConcreteSequence is the Builder output for one scan point: resolved pulses
// with recomputed absolute start times.
type ConcreteSequence struct {
	Name       string
	Point      int                 // scan point index, 0-based
	Values     map[string]Quantity // scan variable assignment for this point
	Duration   Quantity            // nominal duration from the header
	SampleRate Quantity
	Repeat     int
	Offset     Quantity // absolute origin; non-zero for split parts
	Pulses     []ConcretePulse
}

// Span returns the active span of the sequence: the later of the nominal
// duration and the last pulse end.
func (cs *ConcreteSequence) Span() Quantity {
	span := cs.Duration
	for _, p := range cs.Pulses {
		if end := p.End(); end.Cmp(span) > 0 {
			span = end
		}
	}
	return span
}
