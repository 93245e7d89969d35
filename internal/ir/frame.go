package ir

import "slices"

// Frame is one consistent assignment of variables to values.
// Frames are values: every join returns new frames and never mutates its input.
type Frame map[Var]Value

// Frames is an ordered frame set. Order is stable and never re-sorted.
type Frames []Frame

// Identity returns the frame set holding one empty frame, the seed for matching.
func Identity() Frames {
	return Frames{Frame{}}
}

// Lookup returns the value bound to v. Absent keys and Unbound values both
// report false.
func (f Frame) Lookup(v Var) (Value, bool) {
	val, ok := f[v]
	if !ok || IsUnbound(val) {
		return nil, false
	}
	return val, true
}

// Clone copies the frame.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Bound returns the bound variables as a record, dropping Unbound markers.
func (f Frame) Bound() Record {
	out := make(Record, len(f))
	for k, v := range f {
		if !IsUnbound(v) {
			out[string(k)] = v
		}
	}
	return out
}

// Vars returns the bound variable names in sorted order.
func (f Frame) Vars() []Var {
	out := make([]Var, 0, len(f))
	for k, v := range f {
		if !IsUnbound(v) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Clone copies the set and every frame in it.
func (fs Frames) Clone() Frames {
	out := make(Frames, len(fs))
	for i, f := range fs {
		out[i] = f.Clone()
	}
	return out
}
