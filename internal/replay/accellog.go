package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<ax>,<ay>,<az>
//   where t_ns is nanoseconds since START and ax..az are uncalibrated
//   accelerometer readings in m/s^2.

type Record struct {
	At    time.Duration
	Start bool
	Accel r3.Vector
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("invalid replay line (want 4 fields): %q", line)
		}
		tsNs, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid replay timestamp %q: %w", fields[0], err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
		}
		var v [3]float64
		for i := 0; i < 3; i++ {
			v[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid replay value %q: %w", fields[i+1], err)
			}
		}
		recs = append(recs, Record{At: time.Duration(tsNs), Accel: r3.Vector{X: v[0], Y: v[1], Z: v[2]}})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile is a convenience wrapper around NewReader(f).ReadAll().
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteSample(now time.Time, v r3.Vector) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s,%s\n", d.Nanoseconds(),
		strconv.FormatFloat(v.X, 'g', -1, 64),
		strconv.FormatFloat(v.Y, 'g', -1, 64),
		strconv.FormatFloat(v.Z, 'g', -1, 64))
	return err
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Cursor serves recorded samples against a playback clock. START markers
// are concatenated so each segment follows the previous one.
type Cursor struct {
	times   []time.Duration
	samples []r3.Vector
	speed   float64
	loop    bool
}

// NewCursor flattens records onto one timeline. speed 1.0 is real time,
// 2.0 plays twice as fast.
func NewCursor(records []Record, speed float64, loop bool) (*Cursor, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("speed must be > 0")
	}
	c := &Cursor{speed: speed, loop: loop}
	var base, last time.Duration
	for _, r := range records {
		if r.Start {
			base = last
			continue
		}
		at := base + r.At
		if at < last {
			at = last
		}
		c.times = append(c.times, at)
		c.samples = append(c.samples, r.Accel)
		last = at
	}
	if len(c.samples) == 0 {
		return nil, errors.New("no samples")
	}
	return c, nil
}

func (c *Cursor) Duration() time.Duration {
	return time.Duration(float64(c.times[len(c.times)-1]) / c.speed)
}

// At returns the latest sample at or before elapsed playback time, and
// false once a non-looping log is exhausted.
func (c *Cursor) At(elapsed time.Duration) (r3.Vector, bool) {
	t := time.Duration(float64(elapsed) * c.speed)
	end := c.times[len(c.times)-1]
	if t > end {
		if !c.loop || end == 0 {
			return c.samples[len(c.samples)-1], false
		}
		t %= end
	}
	i := sort.Search(len(c.times), func(i int) bool { return c.times[i] > t })
	if i == 0 {
		return c.samples[0], true
	}
	return c.samples[i-1], true
}
