// Package journal stores the per-path baselines the client records every
// time it pulls or checks in a file. The baseline supplies the local known
// version and the hash the classifier compares local content against.
package journal

import (
	"fmt"

	"cadvault/internal/pdm"
)

func validate(b *pdm.Baseline) error {
	if b == nil {
		return fmt.Errorf("cannot set nil baseline")
	}
	if b.RelativePath == "" {
		return fmt.Errorf("baseline has no path")
	}
	return nil
}
