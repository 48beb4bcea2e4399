package seq

import "fmt"

// UnresolvedVariableError reports a pulse field referencing a variable that
// is not declared (or not in scope, for loop variables used outside their
// loop body).
type UnresolvedVariableError struct {
	Name string
	Line int
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable '%s' on line %d", e.Name, e.Line)
}

// TimingError reports a pulse that, after substitution and the timing fold,
// lands before time zero or overlaps the previous pulse on its channel.
// The builder raises it and never clamps.
type TimingError struct {
	Line    int
	Channel int
	Start   Quantity
	Detail  string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("timing violation on line %d (channel %d, t=%s): %s",
		e.Line, e.Channel, e.Start, e.Detail)
}

// ScanPoint is one concrete assignment of all scan variables.
type ScanPoint struct {
	Index  int
	Values map[string]Quantity
}

// ScanPoints enumerates the cartesian product of the declared scan
// variables, ordered outer-to-inner by declaration order (the first declared
// variable varies slowest). Variables consumed by a loop are excluded.
func ScanPoints(desc *SequenceDescription) []ScanPoint {
	consumed := map[string]bool{}
	markLoopVars(desc.Body, consumed)

	var scan []*Variable
	for _, v := range desc.Variables {
		if !consumed[v.Name] {
			scan = append(scan, v)
		}
	}

	total := 1
	values := make([][]Quantity, len(scan))
	for i, v := range scan {
		values[i] = v.Values()
		total *= len(values[i])
	}

	points := make([]ScanPoint, total)
	for idx := 0; idx < total; idx++ {
		env := make(map[string]Quantity, len(scan))
		rem := idx
		for i := len(scan) - 1; i >= 0; i-- {
			n := len(values[i])
			env[scan[i].Name] = values[i][rem%n]
			rem /= n
		}
		points[idx] = ScanPoint{Index: idx, Values: env}
	}
	return points
}

func markLoopVars(nodes []Node, consumed map[string]bool) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *Loop:
			consumed[n.Var] = true
			markLoopVars(n.Body, consumed)
		case *Conditional:
			markLoopVars(n.Then, consumed)
			markLoopVars(n.Else, consumed)
		}
	}
}

// Build expands the description into one ConcreteSequence per scan point.
// It aborts on the first failing scan point; callers wanting best-effort
// behavior iterate ScanPoints and BuildAt themselves.
func Build(desc *SequenceDescription) ([]*ConcreteSequence, error) {
	points := ScanPoints(desc)
	out := make([]*ConcreteSequence, len(points))
	for i, pt := range points {
		cs, err := BuildAt(desc, pt)
		if err != nil {
			return nil, fmt.Errorf("scan point %d: %w", pt.Index, err)
		}
		out[i] = cs
	}
	return out, nil
}

// foldEntry carries one pulse occurrence through the timing fold: its
// authored absolute start plus its nominal and substituted durations.
type foldEntry struct {
	pulse   *Pulse
	start   Quantity // authored absolute start, actual substitution
	nomDur  Quantity // duration with every scan variable at its first value
	dur     Quantity // duration at this scan point
	amp     Quantity
	freq    Quantity
	waveRef string
}

// builder resolves one scan point. actual holds this point's variable
// values; nominal holds every scan variable at its first value, so that
// duration deltas can be measured against a fixed reference timeline.
type builder struct {
	desc    *SequenceDescription
	actual  map[string]Quantity
	nominal map[string]Quantity
}

// BuildAt resolves a single scan point into a ConcreteSequence.
//
// Timing model: pulses keep their authored start times (loop iterations laid
// out back to back on the reference timeline); then an explicit fold shifts
// pulse i by the summed duration deltas of every earlier pulse, so a +Δ on
// pulse i moves every later pulse by exactly +Δ.
func BuildAt(desc *SequenceDescription, pt ScanPoint) (*ConcreteSequence, error) {
	b := &builder{
		desc:    desc,
		actual:  make(map[string]Quantity, len(pt.Values)),
		nominal: make(map[string]Quantity, len(desc.Variables)),
	}
	for name, q := range pt.Values {
		b.actual[name] = q
	}
	for _, v := range desc.Variables {
		b.nominal[v.Name] = v.Values()[0]
	}

	entries, _, err := b.flatten(desc.Body, Quantity{Dim: DimTime})
	if err != nil {
		return nil, err
	}

	cs := &ConcreteSequence{
		Name:       desc.Name,
		Point:      pt.Index,
		Values:     pt.Values,
		Duration:   desc.Duration,
		SampleRate: desc.SampleRate,
		Repeat:     desc.Repeat,
		Offset:     Quantity{Dim: DimTime},
		Pulses:     make([]ConcretePulse, len(entries)),
	}

	// The fold: substitution preserves causal order by construction.
	var shift int64
	for i, e := range entries {
		start := Quantity{Value: e.start.Value + shift, Dim: DimTime}
		cs.Pulses[i] = ConcretePulse{
			Channel: e.pulse.Channel,
			Shape:   e.pulse.Shape,
			Start:   start,
			Dur:     e.dur,
			Amp:     e.amp,
			Freq:    e.freq,
			WaveRef: e.waveRef,
			Line:    e.pulse.Line,
		}
		shift += e.dur.Value - e.nomDur.Value
	}

	if err := validateTiming(cs.Pulses); err != nil {
		return nil, err
	}
	return cs, nil
}

// flatten lays the nodes out on the reference timeline starting at base and
// returns the fold entries plus the nominal end of the laid-out block.
func (b *builder) flatten(nodes []Node, base Quantity) ([]foldEntry, Quantity, error) {
	var entries []foldEntry
	end := base

	for _, n := range nodes {
		switch n := n.(type) {
		case *Pulse:
			e, nomEnd, err := b.resolvePulse(n, base)
			if err != nil {
				return nil, end, err
			}
			entries = append(entries, e)
			if nomEnd.Cmp(end) > 0 {
				end = nomEnd
			}

		case *Loop:
			v := b.desc.Variable(n.Var)
			if v == nil {
				return nil, end, &UnresolvedVariableError{Name: n.Var, Line: n.Line}
			}
			origin := end
			for _, val := range v.Values() {
				b.actual[n.Var] = val
				b.nominal[n.Var] = val
				sub, subEnd, err := b.flatten(n.Body, origin)
				if err != nil {
					return nil, end, err
				}
				entries = append(entries, sub...)
				origin = subEnd
			}
			delete(b.actual, n.Var)
			delete(b.nominal, n.Var)
			if origin.Cmp(end) > 0 {
				end = origin
			}

		case *Conditional:
			val, ok := b.actual[n.Var]
			if !ok {
				return nil, end, &UnresolvedVariableError{Name: n.Var, Line: n.Line}
			}
			branch := n.Then
			if !n.Op.Eval(val, n.Threshold) {
				branch = n.Else
			}
			sub, subEnd, err := b.flatten(branch, base)
			if err != nil {
				return nil, end, err
			}
			entries = append(entries, sub...)
			if subEnd.Cmp(end) > 0 {
				end = subEnd
			}

		default:
			return nil, end, fmt.Errorf("unknown sequence node %T", n)
		}
	}
	return entries, end, nil
}

func (b *builder) resolvePulse(p *Pulse, base Quantity) (foldEntry, Quantity, error) {
	start, err := b.resolve(p.Start, b.actual, p.Line)
	if err != nil {
		return foldEntry{}, Quantity{}, err
	}
	dur, err := b.resolve(p.Dur, b.actual, p.Line)
	if err != nil {
		return foldEntry{}, Quantity{}, err
	}
	nomStart, err := b.resolve(p.Start, b.nominal, p.Line)
	if err != nil {
		return foldEntry{}, Quantity{}, err
	}
	nomDur, err := b.resolve(p.Dur, b.nominal, p.Line)
	if err != nil {
		return foldEntry{}, Quantity{}, err
	}
	amp, err := b.resolve(p.Amp, b.actual, p.Line)
	if err != nil {
		return foldEntry{}, Quantity{}, err
	}
	var freq Quantity
	if p.Freq.IsVar() || !p.Freq.Lit.IsZero() {
		freq, err = b.resolve(p.Freq, b.actual, p.Line)
		if err != nil {
			return foldEntry{}, Quantity{}, err
		}
	}

	e := foldEntry{
		pulse:   p,
		start:   base.Add(start),
		nomDur:  nomDur,
		dur:     dur,
		amp:     amp,
		freq:    freq,
		waveRef: p.WaveRef,
	}
	nomEnd := base.Add(nomStart).Add(nomDur)
	return e, nomEnd, nil
}

func (b *builder) resolve(r Ref, env map[string]Quantity, line int) (Quantity, error) {
	if !r.IsVar() {
		return r.Lit, nil
	}
	q, ok := env[r.Var]
	if !ok {
		return Quantity{}, &UnresolvedVariableError{Name: r.Var, Line: line}
	}
	return q, nil
}

// validateTiming enforces the post-fold invariants: every start at or after
// time zero, and no same-channel overlap except for explicitly concurrent
// pulses (identical start times).
func validateTiming(pulses []ConcretePulse) error {
	type chanState struct {
		start Quantity
		end   Quantity
		line  int
	}
	last := map[int]chanState{}

	for _, p := range pulses {
		if p.Start.Value < 0 {
			return &TimingError{Line: p.Line, Channel: p.Channel, Start: p.Start,
				Detail: "pulse starts before time zero"}
		}
		prev, seen := last[p.Channel]
		if !seen {
			last[p.Channel] = chanState{start: p.Start, end: p.End(), line: p.Line}
			continue
		}
		if p.Start.Cmp(prev.start) < 0 {
			return &TimingError{Line: p.Line, Channel: p.Channel, Start: p.Start,
				Detail: fmt.Sprintf("pulse ordered before the pulse on line %d", prev.line)}
		}
		if p.Start.Cmp(prev.start) == 0 {
			// Explicitly concurrent: identical starts may overlap.
			if end := p.End(); end.Cmp(prev.end) > 0 {
				prev.end = end
				last[p.Channel] = prev
			}
			continue
		}
		if p.Start.Cmp(prev.end) < 0 {
			return &TimingError{Line: p.Line, Channel: p.Channel, Start: p.Start,
				Detail: fmt.Sprintf("pulse overlaps the pulse on line %d ending at %s", prev.line, prev.end)}
		}
		last[p.Channel] = chanState{start: p.Start, end: p.End(), line: p.Line}
	}
	return nil
}
