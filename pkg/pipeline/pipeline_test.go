package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"awgc/pkg/wfile"
)

const flatSource = `name = flat
duration = 1us
sample_rate = 1GHz
repeat = 10

square ch=1 start=0ns dur=1us amp=1V
`

// One scan point of this source folds a pulse to a negative start time and
// fails to build; the other is fine.
const shrinkSource = `name = shrink
duration = 1us
sample_rate = 1GHz

variable tau start=100ns stop=50ns steps=2

square ch=1 start=0ns dur=tau amp=1V
square ch=2 start=0ns dur=10ns amp=1V
`

func TestCompileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	result, err := Compile(context.Background(), flatSource, Options{
		OutDir: dir,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	require.Equal(t, "flat", result.Description.Name)
	require.Len(t, result.Sequences, 1)
	require.NotNil(t, result.Manifest)
	require.Len(t, result.Manifest.Waveforms, 1)
	require.Empty(t, result.Skipped)

	// The written waveform reproduces the authored pulse within one DAC count.
	w, err := wfile.ReadWaveform(result.Manifest.Waveforms[0])
	require.NoError(t, err)
	require.Len(t, w.Samples, 1000)
	lsb := wfile.FullScaleVolts / 32767
	for i, v := range w.Samples {
		require.LessOrEqualf(t, math.Abs(v-1.0), lsb, "sample %d = %g", i, v)
		require.True(t, w.Gate[i])
	}

	entries, err := wfile.ReadTable(result.Manifest.Table)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].Refs[1].Hold, "arming entry holds the safe state")
	require.True(t, entries[0].WaitTrigger)
	require.Equal(t, 10, entries[1].Repeat)
	require.Equal(t, "HALT", entries[1].Jump)
}

func TestCompileDryRun(t *testing.T) {
	result, err := Compile(context.Background(), flatSource, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Nil(t, result.Manifest)
	require.NotNil(t, result.Artifact)
	require.Equal(t, int64(1000), result.Report.TotalSamples)
}

func TestCompileAbortsOnFirstBadScanPoint(t *testing.T) {
	_, err := Compile(context.Background(), shrinkSource, Options{Logger: zerolog.Nop()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "scan point 1")
}

func TestCompileBestEffort(t *testing.T) {
	result, err := Compile(context.Background(), shrinkSource, Options{
		BestEffort: true,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Len(t, result.Sequences, 1)
	require.Len(t, result.Skipped, 1)
	require.Contains(t, result.Skipped[0].Error(), "scan point 1")
}

func TestCompileBestEffortAllFailing(t *testing.T) {
	src := `name = broken
duration = 1us
sample_rate = 1GHz

square ch=1 start=0ns dur=100ns amp=1V
square ch=1 start=50ns dur=100ns amp=1V
`
	_, err := Compile(context.Background(), src, Options{
		BestEffort: true,
		Logger:     zerolog.Nop(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "every scan point failed")
}

func TestCompilePulseFreeSource(t *testing.T) {
	src := "name = idle\nduration = 1us\nsample_rate = 1GHz\n"
	_, err := Compile(context.Background(), src, Options{Logger: zerolog.Nop()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no pulses")
}

func TestCompileParseError(t *testing.T) {
	_, err := Compile(context.Background(), "sample_rate = fast\n", Options{Logger: zerolog.Nop()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse")
}

func TestCompileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compile(ctx, flatSource, Options{Logger: zerolog.Nop()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompileRepeatOverride(t *testing.T) {
	result, err := Compile(context.Background(), flatSource, Options{
		Repeat: 3,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Artifact.Table[1].Repeat)
}

func TestEstimate(t *testing.T) {
	estimates, err := Estimate(context.Background(), flatSource, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Equal(t, []int64{1000}, estimates)
}
