// Package wfile serializes optimized artifacts into the exact byte and text
// layouts the target firmware reads. Nothing upstream knows these layouts;
// everything downstream of the optimizer is a descriptor or a sample.
package wfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"awgc/pkg/awg"
)

const (
	// Magic opens every binary waveform file.
	Magic = "AWGW"
	// FormatVersion is the current binary layout version.
	FormatVersion = 1
	// FullScaleVolts maps to the DAC's +32767 count.
	FullScaleVolts = 2.0

	maxCount = 32767
)

// FormatError reports a sample outside the device's numeric range at
// emission time. Range enforcement should have happened upstream, so this
// is an internal-invariant violation as well as a user-facing failure.
type FormatError struct {
	Volts float64
	Chunk int
	Index int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("sample %d of chunk %d is %.6g V, outside the ±%.3g V device range (internal invariant violation)",
		e.Index, e.Chunk, e.Volts, FullScaleVolts)
}

// Manifest lists the files one WriteArtifact call produced.
type Manifest struct {
	Dir       string
	Table     string         // sequence table path
	Waveforms []string       // chunk file paths, chunk order
	chunkFile map[int]string // chunk index -> file name
}

// chunkFileName names the waveform file for one stored chunk.
func chunkFileName(artifactName string, idx int) string {
	return fmt.Sprintf("%s_w%03d.awf", artifactName, idx)
}

// encodeSample converts volts to a DAC count, rejecting out-of-range values.
func encodeSample(volts float64, chunk, index int) (int16, error) {
	count := math.Round(volts / FullScaleVolts * maxCount)
	if count > maxCount || count < -maxCount {
		return 0, &FormatError{Volts: volts, Chunk: chunk, Index: index}
	}
	return int16(count), nil
}

// EncodeWaveform renders one chunk into the binary layout: magic, version,
// sample count, full-scale millivolts, int16 little-endian samples, then
// marker bytes carrying 2 bits per sample (bit 0 of each pair is the pulse
// gate), packed four samples per byte.
func EncodeWaveform(c *awg.Chunk, chunkIdx int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	binary.Write(&buf, binary.LittleEndian, uint16(FormatVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(len(c.Samples)))
	binary.Write(&buf, binary.LittleEndian, uint32(FullScaleVolts*1000))

	for i, v := range c.Samples {
		count, err := encodeSample(v, chunkIdx, i)
		if err != nil {
			return nil, err
		}
		binary.Write(&buf, binary.LittleEndian, count)
	}

	markers := make([]byte, (len(c.Samples)+3)/4)
	for i, gated := range c.Gate {
		if gated {
			markers[i/4] |= 1 << uint((i%4)*2)
		}
	}
	buf.Write(markers)
	return buf.Bytes(), nil
}

// EncodeTable renders the sequence table text: one line per entry with the
// per-channel waveform references, the statistics repeat count, the
// wait-trigger flag, the jump mode and the jump target. Dead time uses the
// zero-memory reference form hold(<dac>,<samples>).
func EncodeTable(art *awg.Artifact) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s sequence table, format v%d\n", art.Name, FormatVersion)
	fmt.Fprintf(&buf, "# line refs... repeat wait jump target\n")

	for i, e := range art.Table {
		fmt.Fprintf(&buf, "%d", i+1)

		channels := make([]int, 0, len(e.Refs))
		for ch := range e.Refs {
			channels = append(channels, ch)
		}
		sort.Ints(channels)
		for _, ch := range channels {
			ref := e.Refs[ch]
			if ref.Hold {
				dac, err := encodeSample(ref.HoldVolts, -1, i)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(&buf, " ch%d=hold(%d,%d)", ch, dac, ref.HoldSamples)
			} else {
				fmt.Fprintf(&buf, " ch%d=%s", ch, chunkFileName(art.Name, ref.Chunk))
			}
		}

		wait := "OFF"
		if e.WaitTrigger {
			wait = "ON"
		}
		fmt.Fprintf(&buf, " %d %s %s %d\n", e.Repeat, wait, e.Jump, e.Target)
	}
	return buf.Bytes(), nil
}

// WriteArtifact emits every chunk file plus the sequence table under dir.
// All files are first written to temporary paths and renamed only after
// every encode and write succeeded, so an aborted run leaves no partial
// artifacts behind.
func WriteArtifact(dir string, art *awg.Artifact) (*Manifest, error) {
	m := &Manifest{Dir: dir, chunkFile: make(map[int]string, len(art.Chunks))}

	type staged struct {
		tmp   string
		final string
	}
	var files []staged
	cleanup := func() {
		for _, f := range files {
			os.Remove(f.tmp)
		}
	}

	stage := func(name string, data []byte) error {
		final := filepath.Join(dir, name)
		tmp := final + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return errors.Wrapf(err, "write %s", tmp)
		}
		files = append(files, staged{tmp: tmp, final: final})
		return nil
	}

	for i, c := range art.Chunks {
		data, err := EncodeWaveform(c, i)
		if err != nil {
			cleanup()
			return nil, err
		}
		name := chunkFileName(art.Name, i)
		if err := stage(name, data); err != nil {
			cleanup()
			return nil, err
		}
		m.chunkFile[i] = name
		m.Waveforms = append(m.Waveforms, filepath.Join(dir, name))
	}

	tableData, err := EncodeTable(art)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := stage(art.Name+".seq", tableData); err != nil {
		cleanup()
		return nil, err
	}
	m.Table = filepath.Join(dir, art.Name+".seq")

	for _, f := range files {
		if err := os.Rename(f.tmp, f.final); err != nil {
			cleanup()
			return nil, errors.Wrapf(err, "rename %s", f.final)
		}
	}
	return m, nil
}
