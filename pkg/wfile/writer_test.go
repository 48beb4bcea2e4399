package wfile

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"awgc/pkg/awg"
	"awgc/pkg/seq"
)

func testArtifact() *awg.Artifact {
	return &awg.Artifact{
		Name:       "demo",
		SampleRate: seq.Gigahertz(1),
		Channels:   []int{1},
		Chunks: []*awg.Chunk{
			{Samples: []float64{0, 1, 2, -2, 0.5}, Gate: []bool{false, true, true, true, false}},
		},
		Table: []awg.Entry{
			{Refs: map[int]awg.ChannelRef{1: {Hold: true, HoldSamples: 100}},
				Repeat: 1, WaitTrigger: true, Jump: awg.JumpNext},
			{Refs: map[int]awg.ChannelRef{1: {Chunk: 0}},
				Repeat: 500, WaitTrigger: true, Jump: awg.JumpHalt},
		},
		Budget: awg.DefaultBudget,
	}
}

func TestEncodeWaveformLayout(t *testing.T) {
	c := &awg.Chunk{Samples: []float64{0, 2, -2}, Gate: []bool{false, true, true}}
	data, err := EncodeWaveform(c, 0)
	if err != nil {
		t.Fatal(err)
	}

	// 4 magic + 2 version + 4 count + 4 fullscale + 3*2 samples + 1 marker
	if len(data) != 21 {
		t.Fatalf("encoded %d bytes; want 21", len(data))
	}
	if string(data[:4]) != Magic {
		t.Errorf("magic = %q", data[:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != FormatVersion {
		t.Errorf("version = %d", v)
	}
	if n := binary.LittleEndian.Uint32(data[6:10]); n != 3 {
		t.Errorf("sample count = %d; want 3", n)
	}
	if mv := binary.LittleEndian.Uint32(data[10:14]); mv != 2000 {
		t.Errorf("full scale = %d mV; want 2000", mv)
	}

	if s0 := int16(binary.LittleEndian.Uint16(data[14:16])); s0 != 0 {
		t.Errorf("sample 0 = %d; want 0", s0)
	}
	if s1 := int16(binary.LittleEndian.Uint16(data[16:18])); s1 != 32767 {
		t.Errorf("sample 1 = %d; want full scale 32767", s1)
	}
	if s2 := int16(binary.LittleEndian.Uint16(data[18:20])); s2 != -32767 {
		t.Errorf("sample 2 = %d; want -32767", s2)
	}

	// Gate bits sit at bit 0 of each 2-bit marker pair.
	if markers := data[20]; markers != 0b010100 {
		t.Errorf("marker byte = %06b; want 010100", markers)
	}
}

func TestEncodeWaveformRejectsOutOfRange(t *testing.T) {
	c := &awg.Chunk{Samples: []float64{2.5}, Gate: []bool{true}}
	_, err := EncodeWaveform(c, 3)
	var fmtErr *FormatError
	if !errors.As(err, &fmtErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if fmtErr.Chunk != 3 || fmtErr.Index != 0 || fmtErr.Volts != 2.5 {
		t.Errorf("error = %+v", fmtErr)
	}
	if !strings.Contains(fmtErr.Error(), "internal invariant violation") {
		t.Errorf("message %q does not flag the invariant", fmtErr.Error())
	}
}

func TestEncodeTable(t *testing.T) {
	data, err := EncodeTable(testArtifact())
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l != "" && !strings.HasPrefix(l, "#") {
			lines = append(lines, l)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("got %d table lines; want 2", len(lines))
	}
	if lines[0] != "1 ch1=hold(0,100) 1 ON NEXT 0" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if lines[1] != "2 ch1=demo_w000.awf 500 ON HALT 0" {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	art := testArtifact()

	m, err := WriteArtifact(dir, art)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Waveforms) != 1 || m.Table != filepath.Join(dir, "demo.seq") {
		t.Fatalf("manifest = %+v", m)
	}

	w, err := ReadWaveform(m.Waveforms[0])
	if err != nil {
		t.Fatal(err)
	}
	if w.Version != FormatVersion || w.FullScale != FullScaleVolts {
		t.Errorf("header = v%d %gV", w.Version, w.FullScale)
	}
	want := art.Chunks[0]
	if len(w.Samples) != len(want.Samples) {
		t.Fatalf("got %d samples; want %d", len(w.Samples), len(want.Samples))
	}
	// One DAC count is the worst-case quantization error.
	lsb := FullScaleVolts / 32767
	for i, v := range want.Samples {
		if math.Abs(w.Samples[i]-v) > lsb {
			t.Errorf("sample %d = %g; want %g within one count", i, w.Samples[i], v)
		}
		if w.Gate[i] != want.Gate[i] {
			t.Errorf("gate %d = %v; want %v", i, w.Gate[i], want.Gate[i])
		}
	}

	entries, err := ReadTable(m.Table)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries; want 2", len(entries))
	}
	hold := entries[0].Refs[1]
	if !hold.Hold || hold.HoldSamples != 100 || hold.HoldDAC != 0 {
		t.Errorf("entry 1 ref = %+v; want a 100-sample zero hold", hold)
	}
	if !entries[0].WaitTrigger || entries[0].Repeat != 1 {
		t.Errorf("entry 1 = %+v", entries[0])
	}
	if entries[1].Refs[1].File != "demo_w000.awf" || entries[1].Jump != "HALT" {
		t.Errorf("entry 2 = %+v", entries[1])
	}
	if entries[1].Repeat != 500 {
		t.Errorf("entry 2 repeat = %d; want 500", entries[1].Repeat)
	}
}

func TestWriteArtifactLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	art := testArtifact()
	// A second chunk with an out-of-range sample fails after the first chunk
	// has been staged.
	art.Chunks = append(art.Chunks, &awg.Chunk{Samples: []float64{5}, Gate: []bool{true}})

	_, err := WriteArtifact(dir, art)
	var fmtErr *FormatError
	if !errors.As(err, &fmtErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}

	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("failed write left %d files behind", len(left))
	}
}

func TestReadWaveformRejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.awf")
	if err := os.WriteFile(path, []byte("not a waveform"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWaveform(path); err == nil {
		t.Fatal("expected an error for a non-waveform file")
	}
}

func TestReadTableRejectsMalformedLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too short", "1 ch1=x 1 ON"},
		{"bad line number", "x ch1=a.awf 1 ON NEXT 0"},
		{"bad repeat", "1 ch1=a.awf x ON NEXT 0"},
		{"bad wait", "1 ch1=a.awf 1 MAYBE NEXT 0"},
		{"bad target", "1 ch1=a.awf 1 ON GOTO x"},
		{"bad channel", "1 chX=a.awf 1 ON NEXT 0"},
		{"bad hold", "1 ch1=hold(0) 1 ON NEXT 0"},
		{"zero hold length", "1 ch1=hold(0,0) 1 ON NEXT 0"},
	}
	dir := t.TempDir()
	for _, tc := range tests {
		path := filepath.Join(dir, "bad.seq")
		if err := os.WriteFile(path, []byte(tc.line+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadTable(path); err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
		}
	}
}
