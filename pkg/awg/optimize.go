// Package awg converts concrete pulse sequences into channel waveforms plus
// a sequence table honoring the device's fixed per-channel sample memory.
// Dead time and parametric pulses stay descriptors for as long as possible;
// raw samples exist only inside deduplicated chunks.
package awg

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"awgc/pkg/seq"
)

// DefaultBudget is the device memory ceiling in samples per channel.
const DefaultBudget = 4_000_000

// safeVolts is the output level held during arming and dead time.
const safeVolts = 0.0

// holdThreshold is the dead-time length, in samples, above which a span is
// emitted as a zero-memory hold descriptor instead of being materialized
// into the neighboring chunk. Below it a table entry costs more than the
// samples it would save.
const holdThreshold = 4096

// MemoryBudgetError reports a sequence that cannot be made to fit the
// per-channel sample budget even after compression and splitting. It is
// fatal; truncating samples would corrupt the experiment.
type MemoryBudgetError struct {
	Channel int // offending channel, 0 when not channel-specific
	Samples int64
	Budget  int64
	Detail  string
}

func (e *MemoryBudgetError) Error() string {
	if e.Channel > 0 {
		return fmt.Sprintf("memory budget exceeded on channel %d: %d samples > %d (%s)",
			e.Channel, e.Samples, e.Budget, e.Detail)
	}
	return fmt.Sprintf("memory budget exceeded: %d samples > %d (%s)", e.Samples, e.Budget, e.Detail)
}

// JumpMode selects how the sequencer proceeds after a table entry.
type JumpMode int

const (
	JumpNext JumpMode = iota // fall through to the following line
	JumpGoto                 // jump to Target (1-based line)
	JumpHalt                 // stop the sequencer
)

var jumpNames = [...]string{JumpNext: "NEXT", JumpGoto: "GOTO", JumpHalt: "HALT"}

func (j JumpMode) String() string {
	if int(j) >= 0 && int(j) < len(jumpNames) {
		return jumpNames[j]
	}
	return fmt.Sprintf("JumpMode(%d)", int(j))
}

// ChannelRef is one channel's waveform reference in a table entry: either a
// stored chunk or a zero-memory hold descriptor for dead time.
type ChannelRef struct {
	Chunk       int // index into Artifact.Chunks; valid when !Hold
	Hold        bool
	HoldVolts   float64
	HoldSamples int64
}

// Entry is one line of the sequence table. Repeat carries only the
// experiment statistics count; memory compression never uses it.
type Entry struct {
	Refs        map[int]ChannelRef // keyed by channel
	Repeat      int
	WaitTrigger bool
	Jump        JumpMode
	Target      int // 1-based table line, JumpGoto only
}

// Chunk is a deduplicated block of materialized samples shared by every
// table entry (and channel) that references it. Gate marks samples covered
// by a pulse and becomes the artifact's marker bits.
type Chunk struct {
	Samples []float64 // volts
	Gate    []bool
}

// Artifact is the optimizer output: stored chunks plus the sequence table.
type Artifact struct {
	Name       string
	SampleRate seq.Quantity
	Channels   []int
	Chunks     []*Chunk
	Table      []Entry
	Budget     int64
}

// Options configures an Optimize call.
type Options struct {
	Budget int64                // samples per channel; DefaultBudget when 0
	Repeat int                  // statistics count override; 0 keeps the header value
	Name   string               // artifact name; first sequence's name when empty
	Waves  map[string][]float64 // external waveform references, normalized
}

// optimizer accumulates chunks and table entries across scan points.
type optimizer struct {
	art    *Artifact
	rate   seq.Quantity
	budget int64
	waves  map[string][]float64
	dedup  map[uint64][]int // content hash -> candidate chunk indices
}

// Optimize converts the scan-point sequences into a single artifact. Entry
// order follows scan-point order; each scan point opens with a
// wait-trigger entry and oversized sequences become goto-style chains.
func Optimize(seqs []*seq.ConcreteSequence, opts Options) (*Artifact, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences to optimize")
	}
	rate := seqs[0].SampleRate
	for _, cs := range seqs {
		if cs.SampleRate != rate {
			return nil, fmt.Errorf("scan point %d changes the sample rate", cs.Point)
		}
	}

	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	name := opts.Name
	if name == "" {
		name = seqs[0].Name
	}

	channels := channelUnion(seqs)
	if len(channels) == 0 {
		return nil, fmt.Errorf("sequence has no pulses on any channel")
	}

	o := &optimizer{
		art: &Artifact{
			Name:       name,
			SampleRate: rate,
			Channels:   channels,
			Budget:     budget,
		},
		rate:   rate,
		budget: budget,
		waves:  opts.Waves,
	}
	o.dedup = make(map[uint64][]int)

	o.emitArming(seqs[0])

	for _, cs := range seqs {
		repeat := cs.Repeat
		if opts.Repeat > 0 {
			repeat = opts.Repeat
		}
		if err := o.emitScanPoint(cs, repeat); err != nil {
			return nil, err
		}
	}

	if n := len(o.art.Table); n > 0 {
		o.art.Table[n-1].Jump = JumpHalt
		o.art.Table[n-1].Target = 0
	}

	if err := o.checkBudget(); err != nil {
		return nil, err
	}
	return o.art, nil
}

// emitArming inserts the initial table entry holding every output at the
// safe state for the full nominal duration, so the device's first real
// cycle starts from a known state.
func (o *optimizer) emitArming(first *seq.ConcreteSequence) {
	n := seq.SamplesIn(first.Span(), o.rate)
	if n < 1 {
		n = 1
	}
	o.art.Table = append(o.art.Table, Entry{
		Refs:        o.holdAll(n),
		Repeat:      1,
		WaitTrigger: true,
		Jump:        JumpNext,
	})
}

func (o *optimizer) emitScanPoint(cs *seq.ConcreteSequence, repeat int) error {
	parts, err := seq.SplitAtBoundaries(cs, o.budget)
	if err != nil {
		if se, ok := err.(*seq.SplitError); ok {
			return &MemoryBudgetError{Samples: se.Samples, Budget: o.budget,
				Detail: fmt.Sprintf("indivisible pulse fragment starting on line %d", se.Line)}
		}
		return err
	}

	total := seq.SamplesIn(cs.Span(), o.rate)
	firstEntry := len(o.art.Table)
	var cursor int64 // absolute sample position within this scan point

	for pi, part := range parts {
		spans := renderSpans(part, o.rate)
		if pi == 0 && len(spans) > 0 {
			// Leading dead time shorter than the threshold is cheaper
			// inside the first chunk than as its own table entry.
			lead := seq.SamplesIn(part.Offset.Add(spans[0].start), o.rate)
			if lead > 0 && lead < holdThreshold {
				// Rebase the span to the scan-point origin.
				spans[0].start = seq.Picoseconds(0).Sub(part.Offset)
			}
		}
		if pi == len(parts)-1 && len(spans) > 0 {
			last := &spans[len(spans)-1]
			end := seq.SamplesIn(part.Offset.Add(last.end), o.rate)
			if tail := total - end; tail > 0 && tail < holdThreshold {
				last.end = cs.Span().Sub(part.Offset)
			}
		}
		if pi > 0 {
			// Chain link: the previous part's last entry jumps to the next
			// appended line, the inter-part dead-time hold included.
			prev := &o.art.Table[len(o.art.Table)-1]
			prev.Jump = JumpGoto
			prev.Target = len(o.art.Table) + 1
		}
		for _, sp := range spans {
			absStart := seq.SamplesIn(part.Offset.Add(sp.start), o.rate)
			absEnd := seq.SamplesIn(part.Offset.Add(sp.end), o.rate)
			if absStart > cursor {
				o.art.Table = append(o.art.Table, Entry{
					Refs: o.holdAll(absStart - cursor), Repeat: 1, Jump: JumpNext,
				})
			}
			entry, err := o.spanEntry(sp, absEnd-absStart)
			if err != nil {
				return err
			}
			o.art.Table = append(o.art.Table, entry)
			cursor = absEnd
		}
	}

	// Remaining dead time up to the nominal duration.
	if total > cursor {
		o.art.Table = append(o.art.Table, Entry{
			Refs: o.holdAll(total - cursor), Repeat: 1, Jump: JumpNext,
		})
	}

	if firstEntry < len(o.art.Table) {
		o.art.Table[firstEntry].WaitTrigger = true
		o.art.Table[firstEntry].Repeat = repeat
	}
	return nil
}

// renderSpan is a stretch of the timeline that materializes into one chunk
// per active channel. It covers one or more active windows plus any short
// dead time between them.
type renderSpan struct {
	start  seq.Quantity // part-local
	end    seq.Quantity
	pulses []seq.ConcretePulse
}

// renderSpans converts a part's active windows into render spans, merging
// windows separated by less dead time than the hold threshold.
func renderSpans(part *seq.ConcreteSequence, rate seq.Quantity) []renderSpan {
	var spans []renderSpan
	for _, w := range seq.ActiveWindows(part.Pulses) {
		if n := len(spans); n > 0 {
			prev := &spans[n-1]
			if seq.SamplesIn(w.Start.Sub(prev.end), rate) < holdThreshold {
				prev.end = w.End
				prev.pulses = append(prev.pulses, w.Pulses...)
				continue
			}
		}
		spans = append(spans, renderSpan{start: w.Start, end: w.End, pulses: w.Pulses})
	}
	return spans
}

// spanEntry materializes one render span: one chunk per channel with pulses
// in the span, hold descriptors for the silent channels.
func (o *optimizer) spanEntry(sp renderSpan, n int64) (Entry, error) {
	if n < 1 {
		n = 1
	}
	entry := Entry{Refs: make(map[int]ChannelRef, len(o.art.Channels)), Repeat: 1, Jump: JumpNext}

	byChannel := map[int][]seq.ConcretePulse{}
	for _, p := range sp.pulses {
		byChannel[p.Channel] = append(byChannel[p.Channel], p)
	}

	for _, ch := range o.art.Channels {
		pulses, active := byChannel[ch]
		if !active {
			entry.Refs[ch] = ChannelRef{Hold: true, HoldVolts: safeVolts, HoldSamples: n}
			continue
		}
		buf := make([]float64, n)
		gate := make([]bool, n)
		for _, p := range pulses {
			if err := renderPulse(p, o.rate, sp.start, buf, gate, o.waves); err != nil {
				return Entry{}, err
			}
		}
		entry.Refs[ch] = ChannelRef{Chunk: o.internChunk(buf, gate)}
	}
	return entry, nil
}

// internChunk stores the samples once and returns the chunk index; an
// identical chunk already stored is reused.
func (o *optimizer) internChunk(samples []float64, gate []bool) int {
	h := fnv.New64a()
	var scratch [8]byte
	for _, v := range samples {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		h.Write(scratch[:])
	}
	for _, g := range gate {
		if g {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	key := h.Sum64()

	for _, idx := range o.dedup[key] {
		if chunkEqual(o.art.Chunks[idx], samples, gate) {
			return idx
		}
	}
	o.art.Chunks = append(o.art.Chunks, &Chunk{Samples: samples, Gate: gate})
	idx := len(o.art.Chunks) - 1
	o.dedup[key] = append(o.dedup[key], idx)
	return idx
}

func chunkEqual(c *Chunk, samples []float64, gate []bool) bool {
	if len(c.Samples) != len(samples) {
		return false
	}
	for i, v := range samples {
		if c.Samples[i] != v || c.Gate[i] != gate[i] {
			return false
		}
	}
	return true
}

func (o *optimizer) holdAll(n int64) map[int]ChannelRef {
	refs := make(map[int]ChannelRef, len(o.art.Channels))
	for _, ch := range o.art.Channels {
		refs[ch] = ChannelRef{Hold: true, HoldVolts: safeVolts, HoldSamples: n}
	}
	return refs
}

// checkBudget verifies the final invariant: each channel's stored sample
// footprint (each chunk counted once per channel) stays at or below the
// device ceiling.
func (o *optimizer) checkBudget() error {
	used := map[int]map[int]bool{} // channel -> chunk set
	for _, e := range o.art.Table {
		for ch, ref := range e.Refs {
			if ref.Hold {
				continue
			}
			if used[ch] == nil {
				used[ch] = map[int]bool{}
			}
			used[ch][ref.Chunk] = true
		}
	}
	for ch, chunks := range used {
		var total int64
		for idx := range chunks {
			total += int64(len(o.art.Chunks[idx].Samples))
		}
		if total > o.budget {
			return &MemoryBudgetError{Channel: ch, Samples: total, Budget: o.budget,
				Detail: "stored waveform memory after compression and splitting"}
		}
	}
	return nil
}

func channelUnion(seqs []*seq.ConcreteSequence) []int {
	set := map[int]bool{}
	for _, cs := range seqs {
		for _, p := range cs.Pulses {
			set[p.Channel] = true
		}
	}
	channels := make([]int, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	return channels
}
