package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
)

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, 0.1,0.2,-9.81
100000000,1, 2 ,3
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].Start {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if recs[1].At != 0 || recs[1].Accel != (r3.Vector{X: 0.1, Y: 0.2, Z: -9.81}) {
		t.Fatalf("unexpected record 1: %+v", recs[1])
	}
	if recs[2].At != 100*time.Millisecond || recs[2].Accel != (r3.Vector{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("unexpected record 2: %+v", recs[2])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, line := range []string{
		"not-a-valid-line",
		"10,1,2",
		"x,1,2,3",
		"-5,1,2,3",
		"10,1,two,3",
	} {
		if _, err := NewReader(strings.NewReader(line + "\n")).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accel.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteSample(time.Unix(0, 20), r3.Vector{X: 0.5, Y: -1, Z: 9.81}); err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteSample(time.Unix(0, 30), r3.Vector{}); err == nil {
		t.Fatalf("expected error after close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,0.5,-1,9.81\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accel.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	start := w.start
	in := []r3.Vector{{X: 0, Y: 0, Z: -9.81}, {X: 0, Y: 0, Z: 9.81}, {X: -9.81, Y: 0, Z: 0}}
	for i, v := range in {
		if err := w.WriteSample(start.Add(time.Duration(i)*time.Second), v); err != nil {
			t.Fatalf("WriteSample() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	c, err := NewCursor(recs, 1, false)
	if err != nil {
		t.Fatalf("NewCursor() error: %v", err)
	}
	for i, v := range in[:len(in)-1] {
		got, ok := c.At(time.Duration(i)*time.Second + time.Millisecond)
		if !ok || got != v {
			t.Fatalf("At(%ds)=%v,%v want %v", i, got, ok, v)
		}
	}

	last := in[len(in)-1]
	if got, ok := c.At(c.Duration()); !ok || got != last {
		t.Fatalf("At(end)=%v,%v want %v,true", got, ok, last)
	}
	// Past the last sample the log is exhausted but the last reading holds.
	if got, ok := c.At(c.Duration() + time.Millisecond); ok || got != last {
		t.Fatalf("At(end+1ms)=%v,%v want %v,false", got, ok, last)
	}
}

func TestCursor_TimingSpeedAndSegments(t *testing.T) {
	a := r3.Vector{X: 1}
	b := r3.Vector{X: 2}
	cc := r3.Vector{X: 3}
	recs := []Record{
		{Start: true},
		{At: 0, Accel: a},
		{At: 1 * time.Second, Accel: b},
		{Start: true},
		{At: 500 * time.Millisecond, Accel: cc},
	}

	c, err := NewCursor(recs, 1, false)
	if err != nil {
		t.Fatalf("NewCursor() error: %v", err)
	}
	if got := c.Duration(); got != 1500*time.Millisecond {
		t.Fatalf("duration=%v want 1.5s", got)
	}
	steps := []struct {
		at   time.Duration
		want r3.Vector
		ok   bool
	}{
		{0, a, true},
		{999 * time.Millisecond, a, true},
		{time.Second, b, true},
		{1499 * time.Millisecond, b, true},
		{1500 * time.Millisecond, cc, true},
		{2 * time.Second, cc, false},
	}
	for _, s := range steps {
		got, ok := c.At(s.at)
		if got != s.want || ok != s.ok {
			t.Fatalf("At(%v)=%v,%v want %v,%v", s.at, got, ok, s.want, s.ok)
		}
	}

	fast, err := NewCursor(recs, 2, false)
	if err != nil {
		t.Fatalf("NewCursor() error: %v", err)
	}
	if got, _ := fast.At(500 * time.Millisecond); got != b {
		t.Fatalf("2x At(0.5s)=%v want %v", got, b)
	}
	if got := fast.Duration(); got != 750*time.Millisecond {
		t.Fatalf("2x duration=%v want 750ms", got)
	}
}

func TestCursor_Loop(t *testing.T) {
	recs := []Record{
		{At: 0, Accel: r3.Vector{X: 1}},
		{At: time.Second, Accel: r3.Vector{X: 2}},
	}
	c, err := NewCursor(recs, 1, true)
	if err != nil {
		t.Fatalf("NewCursor() error: %v", err)
	}
	got, ok := c.At(1500 * time.Millisecond)
	if !ok || got.X != 1 {
		t.Fatalf("looped At=%v,%v want X=1", got, ok)
	}
}

func TestNewCursor_Invalid(t *testing.T) {
	if _, err := NewCursor([]Record{{At: 0}}, 0, false); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if _, err := NewCursor([]Record{{Start: true}}, 1, false); err == nil {
		t.Fatalf("expected error for empty log")
	}
}
