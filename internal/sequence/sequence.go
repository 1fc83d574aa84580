// Package sequence issues human-readable codes such as FARM-00042 from named,
// monotonically increasing counters.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrContention is returned when an optimistic increment could not win the
// race within its attempt budget.
var ErrContention = errors.New("sequence contention")

// AtomicCounter increments a named counter in one indivisible step, creating
// it at 1 when it does not exist yet, and returns the new value.
type AtomicCounter interface {
	Increment(ctx context.Context, name string) (int64, error)
}

// Generator turns counter values into formatted codes.
type Generator struct {
	counter AtomicCounter
}

func NewGenerator(counter AtomicCounter) *Generator {
	return &Generator{counter: counter}
}

// Next advances the named sequence and formats the value with template.
// A value consumed by a caller that later fails is never reissued.
func (g *Generator) Next(ctx context.Context, name, template string) (string, error) {
	n, err := g.counter.Increment(ctx, name)
	if err != nil {
		return "", fmt.Errorf("advancing sequence %q: %w", name, err)
	}
	return Format(template, n), nil
}

// Format substitutes n into the trailing run of zeros of template.
//
//	Format("X000", 1)        == "X001"
//	Format("FARM-00000", 42) == "FARM-00042"
//	Format("X000", 1000)     == "X1000"
//	Format("REF-", 7)        == "REF-7"
func Format(template string, n int64) string {
	prefix := strings.TrimRight(template, "0")
	width := len(template) - len(prefix)
	digits := strconv.FormatInt(n, 10)
	if pad := width - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return prefix + digits
}
