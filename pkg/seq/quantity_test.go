package seq

import "testing"

func TestQuantityArithmetic(t *testing.T) {
	a := Nanoseconds(100)
	b := Nanoseconds(50)
	if got := a.Add(b); got != Nanoseconds(150) {
		t.Errorf("100ns + 50ns = %v", got)
	}
	if got := a.Sub(b); got != Nanoseconds(50) {
		t.Errorf("100ns - 50ns = %v", got)
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Error("Cmp ordering is wrong")
	}
}

func TestQuantityZeroValueOperand(t *testing.T) {
	// The Quantity zero value (dimensionless zero) must combine with any
	// dimension; unset time offsets flow through Add/Sub.
	var zero Quantity
	if got := Nanoseconds(5).Add(zero); got != Nanoseconds(5) {
		t.Errorf("5ns + zero = %v", got)
	}
	if got := zero.Add(Nanoseconds(5)); got != Nanoseconds(5) {
		t.Errorf("zero + 5ns = %v", got)
	}
	if got := Nanoseconds(5).Sub(zero); got != Nanoseconds(5) {
		t.Errorf("5ns - zero = %v", got)
	}
	if got := zero.Sub(Nanoseconds(5)); got != Nanoseconds(-5) {
		t.Errorf("zero - 5ns = %v", got)
	}
}

func TestQuantityAddPanicsAcrossDimensions(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("adding volts to seconds did not panic")
		}
	}()
	Nanoseconds(1).Add(Volts(1))
}

func TestQuantityString(t *testing.T) {
	tests := []struct {
		q    Quantity
		want string
	}{
		{Nanoseconds(100), "0.0000001s"},
		{Microseconds(1), "0.000001s"},
		{Picoseconds(0), "0s"},
		{Volts(2), "2V"},
		{Millivolts(500), "0.5V"},
		{Millivolts(-500), "-0.5V"},
		{Nanoseconds(-100), "-0.0000001s"},
		{Volts(-2), "-2V"},
		{Gigahertz(1), "1000000000Hz"},
	}
	for _, tc := range tests {
		if got := tc.q.String(); got != tc.want {
			t.Errorf("%+v.String() = %q; want %q", tc.q, got, tc.want)
		}
	}
}

func TestSamplesIn(t *testing.T) {
	rate := Gigahertz(1)
	tests := []struct {
		dur  Quantity
		want int64
	}{
		{Nanoseconds(1000), 1000},
		{Microseconds(1), 1000},
		{Picoseconds(1500), 2}, // rounds to nearest
		{Picoseconds(0), 0},
		{Nanoseconds(-5), 0},
	}
	for _, tc := range tests {
		if got := SamplesIn(tc.dur, rate); got != tc.want {
			t.Errorf("SamplesIn(%v, 1GHz) = %d; want %d", tc.dur, got, tc.want)
		}
	}
	if got := SamplesIn(Microseconds(20_000), Gigahertz(1)); got != 20_000_000 {
		t.Errorf("SamplesIn(20ms, 1GHz) = %d; want 20000000", got)
	}
}

func TestVariableValues(t *testing.T) {
	v := &Variable{Name: "tau", Start: Nanoseconds(100), Stop: Nanoseconds(200), Steps: 3}
	got := v.Values()
	want := []Quantity{Nanoseconds(100), Nanoseconds(150), Nanoseconds(200)}
	if len(got) != len(want) {
		t.Fatalf("got %d values; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("values[%d] = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestVariableValuesSingleStep(t *testing.T) {
	v := &Variable{Name: "a", Start: Volts(1), Stop: Volts(2), Steps: 1}
	got := v.Values()
	if len(got) != 1 || got[0] != Volts(1) {
		t.Errorf("single-step values = %v; want [1V]", got)
	}
}

func TestVariableValuesRounding(t *testing.T) {
	// 0..10ps over 4 steps does not divide evenly; spacing must round to the
	// resolution and still hit both endpoints exactly.
	v := &Variable{Name: "a", Start: Picoseconds(0), Stop: Picoseconds(10), Steps: 4}
	got := v.Values()
	if got[0] != Picoseconds(0) || got[3] != Picoseconds(10) {
		t.Errorf("endpoints = %v, %v; want 0ps, 10ps", got[0], got[3])
	}
	if got[1] != Picoseconds(3) || got[2] != Picoseconds(7) {
		t.Errorf("interior = %v, %v; want 3ps, 7ps", got[1], got[2])
	}
}

func TestVariableValuesDescending(t *testing.T) {
	v := &Variable{Name: "a", Start: Nanoseconds(200), Stop: Nanoseconds(100), Steps: 2}
	got := v.Values()
	if got[0] != Nanoseconds(200) || got[1] != Nanoseconds(100) {
		t.Errorf("descending values = %v", got)
	}
}
