package awg

import (
	"math"
	"testing"

	"awgc/pkg/seq"
)

func render(t *testing.T, p seq.ConcretePulse, n int64, waves map[string][]float64) ([]float64, []bool) {
	t.Helper()
	buf := make([]float64, n)
	gate := make([]bool, n)
	if err := renderPulse(p, seq.Gigahertz(1), seq.Picoseconds(0), buf, gate, waves); err != nil {
		t.Fatal(err)
	}
	return buf, gate
}

func TestRenderSquare(t *testing.T) {
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeSquare,
		Start: seq.Nanoseconds(10), Dur: seq.Nanoseconds(20), Amp: seq.Volts(1),
	}
	buf, gate := render(t, p, 40, nil)
	if buf[5] != 0 || gate[5] {
		t.Error("sample before the pulse is not silent")
	}
	for i := 10; i < 30; i++ {
		if buf[i] != 1.0 || !gate[i] {
			t.Fatalf("sample %d = %g gate %v; want 1.0 gated", i, buf[i], gate[i])
		}
	}
	if buf[30] != 0 || gate[30] {
		t.Error("sample after the pulse is not silent")
	}
}

func TestRenderGaussian(t *testing.T) {
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeGaussian,
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(100), Amp: seq.Millivolts(500),
	}
	buf, _ := render(t, p, 100, nil)
	peak := buf[50]
	if math.Abs(peak-0.5) > 0.01 {
		t.Errorf("center sample = %g; want near the 0.5 V peak", peak)
	}
	if buf[0] > peak/50 {
		t.Errorf("edge sample = %g; want the +-3 sigma tail", buf[0])
	}
	if math.Abs(buf[30]-buf[69]) > 1e-9 {
		t.Errorf("envelope is not symmetric: %g vs %g", buf[30], buf[69])
	}
}

func TestRenderSineDefaultFrequency(t *testing.T) {
	// No explicit frequency: one full period over the pulse.
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeSine,
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(1000), Amp: seq.Volts(1),
	}
	buf, _ := render(t, p, 1000, nil)
	var sum float64
	for _, v := range buf {
		sum += v
	}
	if math.Abs(sum) > 1e-6 {
		t.Errorf("one-period sine sums to %g; want 0", sum)
	}
	if math.Abs(buf[249]-1.0) > 0.001 {
		t.Errorf("quarter-period sample = %g; want near +1", buf[249])
	}
}

func TestRenderSineExplicitFrequency(t *testing.T) {
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeSine,
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(1000), Amp: seq.Volts(1),
		Freq: seq.Megahertz(10),
	}
	buf, _ := render(t, p, 1000, nil)
	// 10 MHz over 1000 ns is ten periods; samples 100 ns apart repeat.
	if math.Abs(buf[10]-buf[110]) > 1e-9 {
		t.Errorf("period mismatch: %g vs %g", buf[10], buf[110])
	}
}

func TestRenderWave(t *testing.T) {
	waves := map[string][]float64{"ramp": {0, 1}}
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeWave, WaveRef: "ramp",
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(100), Amp: seq.Volts(2),
	}
	buf, _ := render(t, p, 100, waves)
	if buf[0] >= buf[50] || buf[50] >= buf[99] {
		t.Errorf("ramp is not increasing: %g, %g, %g", buf[0], buf[50], buf[99])
	}
	if math.Abs(buf[99]-2.0*0.995) > 0.02 {
		t.Errorf("final sample = %g; want near the 2 V endpoint", buf[99])
	}
}

func TestRenderUnknownWaveRef(t *testing.T) {
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeWave, WaveRef: "missing",
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(10), Amp: seq.Volts(1), Line: 8,
	}
	buf := make([]float64, 10)
	gate := make([]bool, 10)
	err := renderPulse(p, seq.Gigahertz(1), seq.Picoseconds(0), buf, gate, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown waveform reference")
	}
}

func TestRenderBadAmplitudeDimension(t *testing.T) {
	p := seq.ConcretePulse{
		Channel: 1, Shape: seq.ShapeSquare,
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(10), Amp: seq.Nanoseconds(1),
	}
	buf := make([]float64, 10)
	gate := make([]bool, 10)
	err := renderPulse(p, seq.Gigahertz(1), seq.Picoseconds(0), buf, gate, nil)
	if err == nil {
		t.Fatal("expected an error for a time-valued amplitude")
	}
}

func TestRenderConcurrentPulsesSum(t *testing.T) {
	rate := seq.Gigahertz(1)
	buf := make([]float64, 100)
	gate := make([]bool, 100)
	a := seq.ConcretePulse{Channel: 1, Shape: seq.ShapeSquare,
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(100), Amp: seq.Volts(1)}
	b := seq.ConcretePulse{Channel: 1, Shape: seq.ShapeSquare,
		Start: seq.Nanoseconds(0), Dur: seq.Nanoseconds(50), Amp: seq.Millivolts(250)}
	if err := renderPulse(a, rate, seq.Picoseconds(0), buf, gate, nil); err != nil {
		t.Fatal(err)
	}
	if err := renderPulse(b, rate, seq.Picoseconds(0), buf, gate, nil); err != nil {
		t.Fatal(err)
	}
	if buf[25] != 1.25 {
		t.Errorf("overlapping sample = %g; want the 1.25 V sum", buf[25])
	}
	if buf[75] != 1.0 {
		t.Errorf("sample past the shorter pulse = %g; want 1.0", buf[75])
	}
}

func TestSampleWave(t *testing.T) {
	wave := []float64{0, 1, 0}
	if got := sampleWave(wave, 0.25); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("sampleWave(0.25) = %g; want 0.5", got)
	}
	if got := sampleWave(nil, 0.5); got != 0 {
		t.Errorf("empty wave samples to %g; want 0", got)
	}
	if got := sampleWave([]float64{0.7}, 0.9); got != 0.7 {
		t.Errorf("single-point wave samples to %g; want 0.7", got)
	}
}
