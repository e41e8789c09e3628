package flow

import "encoding/gob"

// IO is the value passed between tasks.
type IO = any

// Entry is one named value of a Collection.
type Entry struct {
	Name  string
	Value IO
}

// Collection gathers the outputs of joined branches, keyed by process name, in arrival order.
// The same name may appear more than once when a branch is spawned several times.
type Collection struct {
	Entries []Entry
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{}
}

// Add appends a value under name.
func (c *Collection) Add(name string, v IO) {
	c.Entries = append(c.Entries, Entry{Name: name, Value: v})
}

// Set replaces the first value stored under name, or appends it.
func (c *Collection) Set(name string, v IO) {
	for i := range c.Entries {
		if c.Entries[i].Name == name {
			c.Entries[i].Value = v
			return
		}
	}
	c.Add(name, v)
}

// Get returns the first value stored under name.
func (c *Collection) Get(name string) (IO, bool) {
	if c == nil {
		return nil, false
	}
	for _, e := range c.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// All returns every value stored under name.
func (c *Collection) All(name string) []IO {
	if c == nil {
		return nil
	}
	var out []IO
	for _, e := range c.Entries {
		if e.Name == name {
			out = append(out, e.Value)
		}
	}
	return out
}

// Names returns the distinct names in arrival order.
func (c *Collection) Names() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool, len(c.Entries))
	var names []string
	for _, e := range c.Entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	return names
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entries)
}

// RegisterType records a concrete type so it can travel inside an IO value.
// It must be called, typically from init, by both the parent and its workers.
func RegisterType(v any) {
	gob.Register(v)
}

func init() {
	gob.Register(&Collection{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}
