package handle

// Frame is the restore point of one native call.
type Frame struct {
	transient int
	memory    int
	depth     int
}

// Depth returns the 1-based nesting level of the frame.
func (f Frame) Depth() int { return f.depth }

// FrameStack brackets native calls. Frames must close in reverse order of
// opening; reentrant calls push nested frames on the same stack.
type FrameStack struct {
	reg    *Registry
	frames []Frame
}

// NewFrameStack creates a frame stack over reg.
func NewFrameStack(reg *Registry) *FrameStack {
	return &FrameStack{reg: reg}
}

// Open records the current registry counts as a new innermost frame.
func (s *FrameStack) Open() Frame {
	f := Frame{
		transient: s.reg.TransientCount(),
		memory:    s.reg.MemoryCount(),
		depth:     len(s.frames) + 1,
	}
	s.frames = append(s.frames, f)
	return f
}

// Close releases everything allocated since f was opened. f must be the
// innermost open frame.
func (s *FrameStack) Close(f Frame) error {
	top := len(s.frames)
	if top == 0 || f.depth != top || s.frames[top-1] != f {
		return &FrameOrderError{Depth: f.depth, Top: top}
	}
	s.frames = s.frames[:top-1]
	return s.reg.Trim(f.transient, f.memory)
}

// Depth returns the number of open frames.
func (s *FrameStack) Depth() int { return len(s.frames) }
