package awg

import (
	"fmt"
	"math"

	"awgc/pkg/seq"
)

// Envelope width conventions, as fractions of the pulse duration. A
// gaussian spans ±3σ, sech and lorentzian use a 1/8 half-width.
const (
	gaussianSigma   = 1.0 / 6.0
	sechWidth       = 1.0 / 8.0
	lorentzianWidth = 1.0 / 8.0
)

// amplitudeVolts reads a resolved pulse amplitude in volts. Dimensionless
// amplitudes are volt-equivalent (1 == 1 V).
func amplitudeVolts(q seq.Quantity) (float64, error) {
	switch q.Dim {
	case seq.DimVoltage:
		return q.Volts(), nil
	case seq.DimNone:
		return q.Float(), nil
	default:
		return 0, fmt.Errorf("amplitude has %s units", q.Dim)
	}
}

// renderPulse adds the pulse's samples into buf, which covers the window
// starting at winStart. Parametric shapes are materialized here and only
// here, at emission time; the sequence IR never stores raw samples.
func renderPulse(p seq.ConcretePulse, rate seq.Quantity, winStart seq.Quantity, buf []float64, gate []bool, waves map[string][]float64) error {
	amp, err := amplitudeVolts(p.Amp)
	if err != nil {
		return fmt.Errorf("pulse on line %d: %w", p.Line, err)
	}

	first := seq.SamplesIn(p.Start.Sub(winStart), rate)
	n := seq.SamplesIn(p.Dur, rate)
	if n <= 0 {
		return nil
	}
	last := first + n
	if last > int64(len(buf)) {
		last = int64(len(buf))
	}

	var wave []float64
	if p.Shape == seq.ShapeWave {
		w, ok := waves[p.WaveRef]
		if !ok {
			return fmt.Errorf("pulse on line %d: unknown waveform reference '%s'", p.Line, p.WaveRef)
		}
		wave = w
	}

	freqHz := p.Freq.Hertz()
	if p.Shape == seq.ShapeSine && freqHz == 0 {
		freqHz = 1 / p.Dur.Seconds() // one full period over the pulse
	}

	for i := first; i < last; i++ {
		if i < 0 {
			continue
		}
		// x is the normalized position of the sample center in the pulse.
		x := (float64(i-first) + 0.5) / float64(n)
		var v float64
		switch p.Shape {
		case seq.ShapeSquare:
			v = amp
		case seq.ShapeGaussian:
			d := (x - 0.5) / gaussianSigma
			v = amp * math.Exp(-d*d/2)
		case seq.ShapeSech:
			v = amp / math.Cosh((x-0.5)/sechWidth)
		case seq.ShapeLorentzian:
			d := (x - 0.5) / lorentzianWidth
			v = amp / (1 + d*d)
		case seq.ShapeSine:
			t := (float64(i-first) + 0.5) / rate.Hertz()
			v = amp * math.Sin(2*math.Pi*freqHz*t)
		case seq.ShapeWave:
			v = amp * sampleWave(wave, x)
		default:
			return fmt.Errorf("pulse on line %d: unknown shape %v", p.Line, p.Shape)
		}
		buf[i] += v
		gate[i] = true
	}
	return nil
}

// sampleWave linearly interpolates an external waveform at normalized
// position x in [0, 1).
func sampleWave(wave []float64, x float64) float64 {
	if len(wave) == 0 {
		return 0
	}
	if len(wave) == 1 {
		return wave[0]
	}
	pos := x * float64(len(wave)-1)
	i := int(pos)
	if i >= len(wave)-1 {
		return wave[len(wave)-1]
	}
	frac := pos - float64(i)
	return wave[i]*(1-frac) + wave[i+1]*frac
}
