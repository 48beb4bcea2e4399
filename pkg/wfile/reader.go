package wfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Waveform is a decoded binary waveform artifact.
type Waveform struct {
	Version   int
	FullScale float64   // volts
	Samples   []float64 // volts
	Gate      []bool    // marker bit 0 per sample
}

// TableRef is one channel's decoded waveform reference.
type TableRef struct {
	File        string // waveform file name; empty for a hold
	Hold        bool
	HoldDAC     int
	HoldSamples int64
}

// TableEntry is one decoded sequence-table line.
type TableEntry struct {
	Line        int
	Refs        map[int]TableRef
	Repeat      int
	WaitTrigger bool
	Jump        string
	Target      int
}

// ReadWaveform decodes a binary waveform file written by WriteArtifact.
func ReadWaveform(path string) (*Waveform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(data) < 14 || string(data[:4]) != Magic {
		return nil, fmt.Errorf("%s is not a waveform artifact", path)
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	count := binary.LittleEndian.Uint32(data[6:10])
	fullScaleMV := binary.LittleEndian.Uint32(data[10:14])

	sampleBytes := int(count) * 2
	markerBytes := (int(count) + 3) / 4
	if len(data) != 14+sampleBytes+markerBytes {
		return nil, fmt.Errorf("%s is truncated: %d bytes for %d samples", path, len(data), count)
	}

	w := &Waveform{
		Version:   int(version),
		FullScale: float64(fullScaleMV) / 1000,
		Samples:   make([]float64, count),
		Gate:      make([]bool, count),
	}
	for i := 0; i < int(count); i++ {
		raw := int16(binary.LittleEndian.Uint16(data[14+i*2:]))
		w.Samples[i] = float64(raw) / maxCount * w.FullScale
	}
	markers := data[14+sampleBytes:]
	for i := range w.Gate {
		w.Gate[i] = markers[i/4]>>uint((i%4)*2)&1 == 1
	}
	return w, nil
}

// ReadTable decodes a sequence-table file written by WriteArtifact.
func ReadTable(path string) ([]TableEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var entries []TableEntry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		entry, err := parseTableLine(text)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return entries, nil
}

func parseTableLine(text string) (TableEntry, error) {
	fields := strings.Fields(text)
	if len(fields) < 6 {
		return TableEntry{}, fmt.Errorf("too few fields")
	}

	entry := TableEntry{Refs: map[int]TableRef{}}
	var err error
	if entry.Line, err = strconv.Atoi(fields[0]); err != nil {
		return TableEntry{}, fmt.Errorf("bad line number %q", fields[0])
	}

	tail := fields[len(fields)-4:]
	if entry.Repeat, err = strconv.Atoi(tail[0]); err != nil {
		return TableEntry{}, fmt.Errorf("bad repeat %q", tail[0])
	}
	switch tail[1] {
	case "ON":
		entry.WaitTrigger = true
	case "OFF":
	default:
		return TableEntry{}, fmt.Errorf("bad wait flag %q", tail[1])
	}
	entry.Jump = tail[2]
	if entry.Target, err = strconv.Atoi(tail[3]); err != nil {
		return TableEntry{}, fmt.Errorf("bad jump target %q", tail[3])
	}

	for _, f := range fields[1 : len(fields)-4] {
		chPart, refPart, ok := strings.Cut(f, "=")
		if !ok || !strings.HasPrefix(chPart, "ch") {
			return TableEntry{}, fmt.Errorf("bad reference %q", f)
		}
		ch, err := strconv.Atoi(chPart[2:])
		if err != nil {
			return TableEntry{}, fmt.Errorf("bad channel in %q", f)
		}
		ref, err := parseRef(refPart)
		if err != nil {
			return TableEntry{}, fmt.Errorf("bad reference %q: %w", f, err)
		}
		entry.Refs[ch] = ref
	}
	return entry, nil
}

func parseRef(s string) (TableRef, error) {
	if !strings.HasPrefix(s, "hold(") {
		return TableRef{File: s}, nil
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "hold("), ")")
	dacPart, samplesPart, ok := strings.Cut(inner, ",")
	if !ok {
		return TableRef{}, fmt.Errorf("malformed hold descriptor")
	}
	dac, err := strconv.Atoi(dacPart)
	if err != nil {
		return TableRef{}, fmt.Errorf("bad hold value")
	}
	n, err := strconv.ParseInt(samplesPart, 10, 64)
	if err != nil || n < 1 {
		return TableRef{}, fmt.Errorf("bad hold length")
	}
	return TableRef{Hold: true, HoldDAC: dac, HoldSamples: n}, nil
}
