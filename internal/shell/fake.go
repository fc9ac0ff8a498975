package shell

import (
	"context"
	"strings"
)

// Fake is a Runner that records command lines instead of executing them.
// Commands whose line contains a key of Fail return that key's error.
type Fake struct {
	Calls []string
	Fail  map[string]error
}

func (f *Fake) Run(_ context.Context, name string, args ...string) error {
	line := Join(name, args...)
	f.Calls = append(f.Calls, line)
	for substr, err := range f.Fail {
		if strings.Contains(line, substr) {
			return err
		}
	}
	return nil
}
