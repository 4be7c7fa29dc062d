package conn

import "github.com/google/uuid"

// newHandle mints an opaque listener handle, comparable and unique
// per spec.md §9's "opaque comparable handle" design note.
func newHandle() string {
	return uuid.NewString()
}
