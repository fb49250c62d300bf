package vm

// ---------------------------------------------------------------------------
// Context: mutable machine state for one run
// ---------------------------------------------------------------------------

// Context is the machine state a program runs against. It is owned by the
// caller and passed to Run by pointer; the VM mutates it in place and never
// creates one itself. A Context must not be shared between concurrent runs.
type Context struct {
	Counter int             // Program counter (instruction index)
	Stack   []int64         // Operand stack, top is the last element
	Heap    map[int64]int64 // Sparse heap
	Labels  map[string]int  // Label table (bracemap)
	Calls   []int           // Return addresses (bracestack)
}

// NewContext creates an empty context with the counter at 0.
func NewContext() *Context {
	return &Context{
		Stack:  make([]int64, 0, 64),
		Heap:   make(map[int64]int64),
		Labels: make(map[string]int),
		Calls:  make([]int, 0, 16),
	}
}

// Reset returns the context to its initial state, keeping allocated storage.
func (c *Context) Reset() {
	c.Counter = 0
	c.Stack = c.Stack[:0]
	c.Calls = c.Calls[:0]
	clear(c.Heap)
	clear(c.Labels)
}

// ensure lazily allocates maps for a zero-value Context.
func (c *Context) ensure() {
	if c.Heap == nil {
		c.Heap = make(map[int64]int64)
	}
	if c.Labels == nil {
		c.Labels = make(map[string]int)
	}
}

// Push pushes v onto the operand stack.
func (c *Context) Push(v int64) {
	c.Stack = append(c.Stack, v)
}

// Pop removes and returns the top of the operand stack.
func (c *Context) Pop() (int64, error) {
	n := len(c.Stack)
	if n == 0 {
		return 0, ErrStackUnderflow
	}
	v := c.Stack[n-1]
	c.Stack = c.Stack[:n-1]
	return v, nil
}

// Peek returns the element depth positions below the top (0 = top)
// without removing anything.
func (c *Context) Peek(depth int64) (int64, error) {
	n := int64(len(c.Stack))
	if depth < 0 || depth >= n {
		return 0, ErrStackUnderflow
	}
	return c.Stack[n-1-depth], nil
}

// Depth returns the number of values on the operand stack.
func (c *Context) Depth() int {
	return len(c.Stack)
}

// PushCall pushes a return address onto the call stack.
func (c *Context) PushCall(addr int) {
	c.Calls = append(c.Calls, addr)
}

// PopCall removes and returns the most recent return address.
func (c *Context) PopCall() (int, error) {
	n := len(c.Calls)
	if n == 0 {
		return 0, ErrCallStackUnderflow
	}
	addr := c.Calls[n-1]
	c.Calls = c.Calls[:n-1]
	return addr, nil
}

// Load reads a heap cell.
func (c *Context) Load(addr int64) (int64, error) {
	v, ok := c.Heap[addr]
	if !ok {
		return 0, ErrHeapAddress
	}
	return v, nil
}

// Store writes a heap cell.
func (c *Context) Store(addr, v int64) {
	c.ensure()
	c.Heap[addr] = v
}

// Resolve returns the instruction index bound to label.
func (c *Context) Resolve(label string) (int, error) {
	idx, ok := c.Labels[label]
	if !ok {
		return 0, ErrUndefinedLabel
	}
	return idx, nil
}
