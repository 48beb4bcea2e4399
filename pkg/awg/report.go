package awg

import (
	"fmt"
	"sort"
	"strings"
)

// Occupancy is one channel's share of the device waveform memory.
type Occupancy struct {
	Samples  int64
	Fraction float64 // of the per-channel budget
}

// Report summarizes artifact memory utilization. The orchestration layer
// consumes it to pre-validate sweep feasibility before committing hardware
// time.
type Report struct {
	TotalSamples int64 // distinct stored samples across all chunks
	TableEntries int
	PerChannel   map[int]Occupancy
}

// Report computes the utilization summary for the artifact.
func (a *Artifact) Report() Report {
	r := Report{
		TableEntries: len(a.Table),
		PerChannel:   make(map[int]Occupancy, len(a.Channels)),
	}
	for _, c := range a.Chunks {
		r.TotalSamples += int64(len(c.Samples))
	}

	used := map[int]map[int]bool{}
	for _, e := range a.Table {
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
	for _, ch := range a.Channels {
		var total int64
		for idx := range used[ch] {
			total += int64(len(a.Chunks[idx].Samples))
		}
		r.PerChannel[ch] = Occupancy{
			Samples:  total,
			Fraction: float64(total) / float64(a.Budget),
		}
	}
	return r
}

func (r Report) String() string {
	channels := make([]int, 0, len(r.PerChannel))
	for ch := range r.PerChannel {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var b strings.Builder
	fmt.Fprintf(&b, "%d table entries, %d stored samples", r.TableEntries, r.TotalSamples)
	for _, ch := range channels {
		fmt.Fprintf(&b, ", ch%d %.1f%%", ch, r.PerChannel[ch].Fraction*100)
	}
	return b.String()
}
