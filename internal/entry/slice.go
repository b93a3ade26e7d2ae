package entry

import "fmt"

// Slice selects a range of a store the way Python slice expressions do:
// half-open [Start, Stop) with an arbitrary non-zero Step, nil bounds
// defaulting per step direction and negative bounds counting from the end.
type Slice struct {
	Start *int64
	Stop  *int64
	Step  int64 // 0 means 1
}

// Bounds builds a step-1 slice over [start, stop).
func Bounds(start, stop int64) Slice {
	return Slice{Start: &start, Stop: &stop, Step: 1}
}

// indices resolves the slice against a collection of length n, mirroring
// CPython's slice.indices. The returned iteration is i := start; then
// i < stop (step > 0) or i > stop (step < 0); i += step.
func (s Slice) indices(n int64) (start, stop, step int64) {
	step = s.Step
	if step == 0 {
		step = 1
	}

	var lower, upper int64
	if step > 0 {
		lower, upper = 0, n
	} else {
		lower, upper = -1, n-1
	}

	if s.Start == nil {
		if step > 0 {
			start = lower
		} else {
			start = upper
		}
	} else {
		start = clampBound(*s.Start, n, lower, upper)
	}

	if s.Stop == nil {
		if step > 0 {
			stop = upper
		} else {
			stop = lower
		}
	} else {
		stop = clampBound(*s.Stop, n, lower, upper)
	}
	return start, stop, step
}

func clampBound(v, n, lower, upper int64) int64 {
	if v < 0 {
		v += n
		if v < lower {
			v = lower
		}
	} else if v > upper {
		v = upper
	}
	return v
}

func (s Slice) String() string {
	fmtBound := func(v *int64) string {
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%d", *v)
	}
	step := s.Step
	if step == 0 {
		step = 1
	}
	return fmt.Sprintf("[%s:%s:%d]", fmtBound(s.Start), fmtBound(s.Stop), step)
}
