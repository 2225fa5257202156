package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/dunamismax/rasterkit/internal/filter"
)

// ErrUsage marks invocations that never reach the filesystem.
var ErrUsage = errors.New("usage")

// UsageText is printed on every usage error.
var UsageText = fmt.Sprintf(
	"USAGE: rasterkit <in-file> <out-file> <%s> {motion-blur-length}",
	strings.Join(filter.Names(), "|"),
)

type Args struct {
	Input  string
	Output string
	Step   domain.FilterStep
}

// ParseArgs validates positional arguments. motionblur takes exactly one
// trailing non-negative integer; every other filter takes none.
func ParseArgs(args []string) (Args, error) {
	if len(args) < 3 {
		return Args{}, fmt.Errorf("%w: expected at least 3 arguments, got %d", ErrUsage, len(args))
	}

	kind, err := filter.Lookup(args[2])
	if err != nil {
		return Args{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	want := 3
	if kind.TakesLength() {
		want = 4
	}
	if len(args) != want {
		return Args{}, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrUsage, kind, want, len(args))
	}

	parsed := Args{
		Input:  args[0],
		Output: args[1],
		Step:   domain.FilterStep{Filter: kind.String()},
	}
	if strings.TrimSpace(parsed.Input) == "" || strings.TrimSpace(parsed.Output) == "" {
		return Args{}, fmt.Errorf("%w: empty file name", ErrUsage)
	}

	if kind.TakesLength() {
		length, err := strconv.Atoi(strings.TrimSpace(args[3]))
		if err != nil {
			return Args{}, fmt.Errorf("%w: motion blur length %q is not an integer", ErrUsage, args[3])
		}
		if length < 0 {
			return Args{}, fmt.Errorf("%w: motion blur length must be >= 0, got %d", ErrUsage, length)
		}
		parsed.Step.Length = length
	}
	return parsed, nil
}
