package seq

import (
	"fmt"
	"sort"
)

// SplitError reports an indivisible run of pulses whose per-channel sample
// footprint exceeds the requested maximum. There is no boundary inside such
// a run, so the caller cannot split further.
type SplitError struct {
	Samples int64 // footprint of the indivisible fragment
	Max     int64
	Line    int // first pulse of the fragment
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("indivisible pulse fragment starting on line %d needs %d samples, limit is %d",
		e.Line, e.Samples, e.Max)
}

// EstimateSampleCount returns the number of samples the sequence spans at
// the given sample rate, counting from its origin to the later of the
// nominal duration and the last pulse end. Exposed for sweep-feasibility
// checks before hardware time is committed.
func EstimateSampleCount(cs *ConcreteSequence, rate Quantity) int64 {
	return SamplesIn(cs.Span(), rate)
}

// PulseSampleFootprint returns the worst per-channel sum of pulse samples,
// the quantity bounded by the device memory ceiling. Dead time between
// pulses costs nothing; it is never materialized.
func PulseSampleFootprint(cs *ConcreteSequence, rate Quantity) int64 {
	perChannel := map[int]int64{}
	for _, p := range cs.Pulses {
		perChannel[p.Channel] += SamplesIn(p.Dur, rate)
	}
	var worst int64
	for _, n := range perChannel {
		if n > worst {
			worst = n
		}
	}
	return worst
}

// Window is a maximal run of pulses with no all-channel gap inside it.
// Boundary cuts are only legal between windows, and the optimizer turns
// each window into one materialized chunk per active channel.
type Window struct {
	Pulses []ConcretePulse
	Start  Quantity
	End    Quantity
}

// ActiveWindows groups pulses into windows, ordered by start time.
func ActiveWindows(pulses []ConcretePulse) []Window {
	if len(pulses) == 0 {
		return nil
	}
	sorted := make([]ConcretePulse, len(pulses))
	copy(sorted, pulses)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Value < sorted[j].Start.Value
	})

	var out []Window
	cur := Window{Pulses: sorted[:1], Start: sorted[0].Start, End: sorted[0].End()}
	for _, p := range sorted[1:] {
		if p.Start.Cmp(cur.End) < 0 {
			cur.Pulses = append(cur.Pulses, p)
			if end := p.End(); end.Cmp(cur.End) > 0 {
				cur.End = end
			}
			continue
		}
		out = append(out, cur)
		cur = Window{Pulses: []ConcretePulse{p}, Start: p.Start, End: p.End()}
	}
	return append(out, cur)
}

func windowFootprint(w Window, rate Quantity) int64 {
	perChannel := map[int]int64{}
	for _, p := range w.Pulses {
		perChannel[p.Channel] += SamplesIn(p.Dur, rate)
	}
	var worst int64
	for _, n := range perChannel {
		if n > worst {
			worst = n
		}
	}
	return worst
}

// SplitAtBoundaries cuts the sequence into parts whose per-channel pulse
// footprint each stays at or below maxSamples, cutting only in gaps no
// pulse on any channel spans. Each part is rebased to its own origin with
// Offset recording its absolute position, so parts chain back into the
// original timeline. A sequence already within the limit is returned as a
// single part unchanged.
func SplitAtBoundaries(cs *ConcreteSequence, maxSamples int64) ([]*ConcreteSequence, error) {
	if PulseSampleFootprint(cs, cs.SampleRate) <= maxSamples {
		return []*ConcreteSequence{cs}, nil
	}

	windows := ActiveWindows(cs.Pulses)
	for _, w := range windows {
		if fp := windowFootprint(w, cs.SampleRate); fp > maxSamples {
			return nil, &SplitError{Samples: fp, Max: maxSamples, Line: w.Pulses[0].Line}
		}
	}

	var parts []*ConcreteSequence
	var group []Window
	var groupSamples int64
	flush := func(final bool) {
		if len(group) == 0 {
			return
		}
		partStart := group[0].Start
		partEnd := group[len(group)-1].End
		part := &ConcreteSequence{
			Name:       cs.Name,
			Point:      cs.Point,
			Values:     cs.Values,
			Duration:   partEnd.Sub(partStart),
			SampleRate: cs.SampleRate,
			Repeat:     cs.Repeat,
			Offset:     cs.Offset.Add(partStart),
		}
		if final {
			// The last part carries the tail of the nominal duration so the
			// chained total still covers the full authored span.
			if tail := cs.Duration.Sub(partStart); tail.Cmp(part.Duration) > 0 {
				part.Duration = tail
			}
		}
		for _, w := range group {
			for _, p := range w.Pulses {
				p.Start = p.Start.Sub(partStart)
				part.Pulses = append(part.Pulses, p)
			}
		}
		parts = append(parts, part)
		group = nil
		groupSamples = 0
	}

	for _, w := range windows {
		fp := windowFootprint(w, cs.SampleRate)
		if groupSamples+fp > maxSamples {
			flush(false)
		}
		group = append(group, w)
		groupSamples += fp
	}
	flush(true)
	return parts, nil
}
