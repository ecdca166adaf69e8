package command

// Flow is one run of a multi-step command.
type Flow struct {
	cmd    *Command
	cursor int
	data   map[string]any
}

func newFlow(cmd *Command) *Flow {
	return &Flow{cmd: cmd, data: make(map[string]any)}
}

// Cursor returns the index of the step handling the current input.
func (f *Flow) Cursor() int {
	return f.cursor
}

// Set stores a value in the flow's data bag.
func (f *Flow) Set(key string, value any) {
	f.data[key] = value
}

// Get returns a value from the data bag.
func (f *Flow) Get(key string) (any, bool) {
	v, ok := f.data[key]
	return v, ok
}

// String returns the string stored under key, or "".
func (f *Flow) String(key string) string {
	s, _ := f.data[key].(string)
	return s
}

// Len returns the number of values in the data bag.
func (f *Flow) Len() int {
	return len(f.data)
}

// close drops the data bag. A closed flow is never reused.
func (f *Flow) close() {
	clear(f.data)
	f.data = nil
}
