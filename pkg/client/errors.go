package client

import "fmt"

// ErrNotFound is returned when the forum service answers 404 for a resource.
type ErrNotFound struct {
	Resource string
	Path     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Path)
}

// ErrStatus is returned for any other unexpected response status.
type ErrStatus struct {
	Code int
	Body string
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("forum service returned status %d: %s", e.Code, e.Body)
}
