// Package utils holds small helpers shared by the monitor and keeper
// command trees. SetFlagsFromEnv is called from every cmd/*/cmd root the
// way the teacher's (missing from the retrieval pack, reconstructed from
// its call sites in cmd/bowl, cmd/monitor, cmd/hpmon, cmd/ladle) did.
package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// SetFlagsFromEnv walks fs and, for every flag not already set on the
// command line, looks for an environment variable named
// <prefix>_<FLAG_NAME> (flag name upper-cased, '-' replaced with '_') and
// sets the flag from it if present. Errors from pflag.Set are returned
// wrapped with the offending flag/env var names.
func SetFlagsFromEnv(fs *pflag.FlagSet, prefix string) error {
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := prefix + "_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envName)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, val); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flag --%s from %s: %w", f.Name, envName, err)
		}
	})
	return firstErr
}
