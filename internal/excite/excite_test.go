package excite

import (
	"math"
	"testing"
)

func TestLevel_BoundedAndMonotonic(t *testing.T) {
	prev := Level(0)
	for i := 1; i <= 2000; i++ {
		rms := float64(i) * 0.0005
		got := Level(rms)
		if got < 0 || got > 1 {
			t.Fatalf("Level(%f) = %f out of [0, 1]", rms, got)
		}
		if got < prev {
			t.Fatalf("Level(%f) = %f < Level(previous) = %f", rms, got, prev)
		}
		prev = got
	}
}

func TestLevel_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		rms  float64
		want float64
	}{
		{name: "zero", rms: 0, want: 0},
		{name: "negative", rms: -0.5, want: 0},
		{name: "nan", rms: math.NaN(), want: 0},
		{name: "infinite", rms: math.Inf(1), want: 1},
		{name: "saturates", rms: 1, want: 1},
		{name: "mid", rms: 0.1, want: math.Pow(0.42, 1.2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Level(tt.rms); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Level(%f) = %f, want %f", tt.rms, got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(square) = %f, want 0.5", got)
	}
}

type fixedSource struct {
	samples []float32
	reads   int
}

func (f *fixedSource) Window(dst []float32) int {
	f.reads++
	return copy(dst, f.samples)
}

func TestExtractor_Lifecycle(t *testing.T) {
	loud := make([]float32, WindowSize)
	for i := range loud {
		loud[i] = float32(0.2 * math.Sin(float64(i)/5))
	}
	src := &fixedSource{samples: loud}

	e := New()
	if got := e.Next(); got != 0 {
		t.Fatalf("idle Next = %f, want 0", got)
	}

	e.Start(src)
	if !e.Active() {
		t.Fatal("Active = false after Start")
	}
	got := e.Next()
	if got <= 0.3 {
		t.Fatalf("Next on loud source = %f, want > 0.3", got)
	}
	if e.Last() != got {
		t.Errorf("Last = %f, want %f", e.Last(), got)
	}

	e.Stop()
	for i := range 3 {
		if got := e.Next(); got != 0 {
			t.Fatalf("Next #%d after Stop = %f, want exactly 0", i, got)
		}
	}
	if src.reads != 1 {
		t.Errorf("source read %d times, want 1", src.reads)
	}
}

func TestExtractor_EmptyWindow(t *testing.T) {
	e := New()
	e.Start(&fixedSource{})
	if got := e.Next(); got != 0 {
		t.Errorf("Next on empty source = %f, want 0", got)
	}
}

func TestExtractor_TimeDomainIsUnsmoothed(t *testing.T) {
	loud := make([]float32, WindowSize)
	for i := range loud {
		loud[i] = float32(0.3 * math.Sin(float64(i)/3))
	}
	src := &fixedSource{samples: loud}

	e := New()
	e.Start(src)
	want := Level(RMS(loud))
	if got := e.Next(); got != want {
		t.Fatalf("first Next = %f, want %f", got, want)
	}

	src.samples = make([]float32, WindowSize)
	if got := e.Next(); got != 0 {
		t.Fatalf("Next on silent window = %f, want 0 with no decay", got)
	}

	src.samples = loud
	if got := e.Next(); got != want {
		t.Errorf("Next after silence = %f, want %f with no attack", got, want)
	}
}
