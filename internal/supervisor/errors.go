package supervisor

import "fmt"

// UnknownModelError reports that a requested model name is not present in
// the registry.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("supervisor: unknown model %q", e.Name)
}

// ModelFileMissingError reports that a registry entry's backing file
// vanished between discovery and load.
type ModelFileMissingError struct {
	Name string
	Path string
}

func (e *ModelFileMissingError) Error() string {
	return fmt.Sprintf("supervisor: model file for %q missing at %q", e.Name, e.Path)
}
