package lowpass

// Filter is a first-order exponential smoother. Each update moves the value
// toward the input by dt/timeFactor, clamped to a full step.
type Filter struct {
	TimeFactor float64
	Value      float64
}

func New(timeFactor float64) *Filter {
	return &Filter{TimeFactor: timeFactor}
}

func (f *Filter) Update(in, dt float64) float64 {
	if dt <= 0 {
		return f.Value
	}
	w := 1.0
	if f.TimeFactor > 0 {
		w = dt / f.TimeFactor
	}
	if w > 1 {
		w = 1
	}
	f.Value = (1-w)*f.Value + w*in
	return f.Value
}

func (f *Filter) Reset(v float64) {
	f.Value = v
}
