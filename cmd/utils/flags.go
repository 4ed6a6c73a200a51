// Package flags provides common command-line flag parsing utilities
// for the ddk commands, ensuring consistent flag handling across all commands.
package flags

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// ParseFlags parses the given flag set with the provided arguments.
// It returns the remaining non-flag arguments and any error.
func ParseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			// Help was requested, exit gracefully
			fmt.Fprintln(os.Stderr)
			fs.PrintDefaults()
			os.Exit(0)
		}
		return nil, err
	}
	return fs.Args(), nil
}

// Uint64 is a flag.Value accepting decimal or 0x-prefixed hex.
type Uint64 uint64

// String implements flag.Value.
func (u *Uint64) String() string {
	return fmt.Sprintf("%#x", uint64(*u))
}

// Set implements flag.Value.
func (u *Uint64) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %s", s)
	}
	*u = Uint64(n)
	return nil
}
