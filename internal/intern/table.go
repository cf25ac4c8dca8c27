package intern

import "fmt"

// Table assigns stable small integer ids to names so they can cross the
// native boundary as integers. Ids start at 0 and are never reused; entries
// are never removed. A Table is not safe for concurrent use.
type Table struct {
	ids   map[string]int
	names []string
}

// UnknownIDError occurs when an id was never assigned.
type UnknownIDError struct {
	ID  int
	Len int
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("name id %d out of range [0, %d)", e.ID, e.Len)
}

// New creates an empty table.
func New() *Table {
	return &Table{ids: make(map[string]int)}
}

// Intern returns the id for name, assigning the next id on first use.
func (t *Table) Intern(name string) int {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := len(t.names)
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

// Resolve returns the name interned at id.
func (t *Table) Resolve(id int) (string, error) {
	if id < 0 || id >= len(t.names) {
		return "", &UnknownIDError{ID: id, Len: len(t.names)}
	}
	return t.names[id], nil
}

// Lookup returns the id of name without assigning one.
func (t *Table) Lookup(name string) (int, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// Len returns the number of interned names.
func (t *Table) Len() int {
	return len(t.names)
}
