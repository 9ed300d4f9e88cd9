package store

// TaskOutputs is an insertion-ordered collection of task outputs for one
// workflow. Setting an existing task overwrites its output but keeps its
// original position. The zero value is ready to use.
type TaskOutputs struct {
	names  []string
	values map[string]string
}

// NewTaskOutputs returns an empty collection.
func NewTaskOutputs() *TaskOutputs {
	return &TaskOutputs{values: make(map[string]string)}
}

// Set records the output for a task, appending the task to the order on
// first write.
func (o *TaskOutputs) Set(taskName, output string) {
	if o.values == nil {
		o.values = make(map[string]string)
	}
	if _, seen := o.values[taskName]; !seen {
		o.names = append(o.names, taskName)
	}
	o.values[taskName] = output
}

// Get returns the output for a task and whether one is stored.
func (o *TaskOutputs) Get(taskName string) (string, bool) {
	v, ok := o.values[taskName]
	return v, ok
}

// Names returns the task names in first-persisted order.
func (o *TaskOutputs) Names() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// Len returns the number of stored outputs.
func (o *TaskOutputs) Len() int { return len(o.names) }

// Map returns a copy of the outputs keyed by task name.
func (o *TaskOutputs) Map() map[string]string {
	out := make(map[string]string, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}
