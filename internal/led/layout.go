// Package led defines the LED layout data model: normalized rectangles
// over the image plane and the ordered, stable-indexed layout sequence.
package led

import "fmt"

// Rect is a normalized rectangle over the image plane, 0 = top/left,
// 1 = bottom/right. Invariant: Hmin <= Hmax, Vmin <= Vmax, all in [0,1].
type Rect struct {
	Hmin, Hmax float64
	Vmin, Vmax float64
}

// Validate checks the rectangle invariants, returning a descriptive error
// if violated.
func (r Rect) Validate() error {
	if r.Hmin > r.Hmax {
		return fmt.Errorf("led: hmin %v > hmax %v", r.Hmin, r.Hmax)
	}
	if r.Vmin > r.Vmax {
		return fmt.Errorf("led: vmin %v > vmax %v", r.Vmin, r.Vmax)
	}
	for _, v := range []float64{r.Hmin, r.Hmax, r.Vmin, r.Vmax} {
		if v < 0 || v > 1 {
			return fmt.Errorf("led: rectangle coordinate %v out of [0,1]", v)
		}
	}
	return nil
}

// Clamp returns r intersected with bound, clamping out-of-range edges.
func (r Rect) Clamp(bound Rect) Rect {
	out := Rect{
		Hmin: clamp(r.Hmin, bound.Hmin, bound.Hmax),
		Hmax: clamp(r.Hmax, bound.Hmin, bound.Hmax),
		Vmin: clamp(r.Vmin, bound.Vmin, bound.Vmax),
		Vmax: clamp(r.Vmax, bound.Vmin, bound.Vmax),
	}
	if out.Hmin > out.Hmax {
		out.Hmax = out.Hmin
	}
	if out.Vmin > out.Vmax {
		out.Vmax = out.Vmin
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LED is a single layout entry: a normalized rectangle plus its stable
// index identity, assigned by position within a Layout.
type LED struct {
	Rect Rect
}

// Layout is the ordered, stable-indexed sequence of LEDs for one
// instance. Index i identifies LEDs[i] across frames.
type Layout struct {
	LEDs []LED
}

// Validate checks every LED's rectangle invariant.
func (l Layout) Validate() error {
	for i, led := range l.LEDs {
		if err := led.Rect.Validate(); err != nil {
			return fmt.Errorf("led: layout index %d: %w", i, err)
		}
	}
	return nil
}

// Len returns the number of LEDs in the layout.
func (l Layout) Len() int { return len(l.LEDs) }
