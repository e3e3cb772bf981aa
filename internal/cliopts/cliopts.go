// Package cliopts parses the "N:cmd" / "reset:cmd" argument grammar
// into a TimeoutTable, the way original_source's src/options.c and
// src/opts.c build theirs.
package cliopts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"xs-timeout/internal/timeouttable"
)

// ErrInvalidArg is returned for any argument that doesn't fit the
// "N:cmd" / "reset:cmd" grammar.
var ErrInvalidArg = errors.New("invalid timeout argument")

// MaxThreshold is the largest accepted timeout, in seconds: the
// largest value whose millisecond form still fits a uint32, mirroring
// the TIME_MAX bound in original_source's oparse_timeout.
const MaxThreshold = ^uint32(0) / 1000

// Parse turns positional CLI arguments into a populated Table.
func Parse(args []string) (*timeouttable.Table, error) {
	tbl := timeouttable.New()
	for _, arg := range args {
		threshold, cmd, err := parseArg(arg)
		if err != nil {
			return nil, err
		}
		tbl.Append(threshold, cmd)
	}
	return tbl, nil
}

func parseArg(arg string) (uint32, string, error) {
	key, cmd, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: %q is missing a ':' separator", ErrInvalidArg, arg)
	}
	if cmd == "" {
		return 0, "", fmt.Errorf("%w: %q has no command", ErrInvalidArg, arg)
	}

	if key == "reset" {
		return timeouttable.ResetThreshold, cmd, nil
	}

	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q is not a timeout in seconds or \"reset\": %v", ErrInvalidArg, key, err)
	}
	if n < 1 || uint32(n) > MaxThreshold {
		return 0, "", fmt.Errorf("%w: timeout %d is out of range [1, %d]", ErrInvalidArg, n, MaxThreshold)
	}
	return uint32(n), cmd, nil
}
