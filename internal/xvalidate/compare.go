// Package xvalidate normalizes and diffs the command streams produced by
// two Driver runs of the same program, and runs batches of such
// comparisons concurrently. Two conformant interpreters driving the same
// program with the same responses must produce byte-identical streams
// after canonical normalization; this harness checks that property
// against this implementation itself, by comparing a Driver run against
// a second, independently-constructed Driver run of the same program.
package xvalidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"github.com/sfranzyshen/goasti/interp"
)

// Normalize renders a command stream into the canonical comparison form:
// one line per record, fields in declaration order, timestamps dropped
// (two runs may legitimately tick at different wall-clock rates) and
// request ids dropped (broker-assigned, not part of program semantics).
func Normalize(cmds []interp.CommandRecord) string {
	var sb strings.Builder
	for _, c := range cmds {
		fmt.Fprintf(&sb, "%s(", c.Type)
		first := true
		for _, fld := range c.Fields {
			if fld.Name == "requestId" {
				continue
			}
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", fld.Name, fld.Value)
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// Diff reports whether two normalized streams match, and a human-readable
// diff (via diffmatchpatch) when they don't.
func Diff(want, got []interp.CommandRecord) (equal bool, diffText string) {
	w, g := Normalize(want), Normalize(got)
	if w == g {
		return true, ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(w, g, false)
	return false, dmp.DiffPrettyText(diffs)
}

// Case is one comparison: a program plus the options each of two Driver
// instances should run it with.
type Case struct {
	Name     string
	Program  []byte
	OptsA    interp.Options
	OptsB    interp.Options
	MaxTicks int
}

// Mismatch describes one Case whose two runs disagreed.
type Mismatch struct {
	Name string
	Diff string
}

// RunAll drives every Case's two Driver instances to completion and
// collects every mismatch, running the batch concurrently via
// errgroup.Group — the comparison harness is concurrent even though each
// Driver instance itself stays single-threaded.
func RunAll(ctx context.Context, cases []Case) ([]Mismatch, error) {
	results := make([]*Mismatch, len(cases))
	g, _ := errgroup.WithContext(ctx)
	for i, c := range cases {
		i, c := i, c
		g.Go(func() error {
			m, err := runOne(c)
			if err != nil {
				return fmt.Errorf("case %q: %w", c.Name, err)
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var mismatches []Mismatch
	for _, m := range results {
		if m != nil {
			mismatches = append(mismatches, *m)
		}
	}
	return mismatches, nil
}

func runOne(c Case) (*Mismatch, error) {
	a, err := driveToCompletion(c.Program, c.OptsA, c.MaxTicks)
	if err != nil {
		return nil, err
	}
	b, err := driveToCompletion(c.Program, c.OptsB, c.MaxTicks)
	if err != nil {
		return nil, err
	}
	if equal, diff := Diff(a, b); !equal {
		return &Mismatch{Name: c.Name, Diff: diff}, nil
	}
	return nil, nil
}

// driveToCompletion runs a Driver Inline (so no host coordination is
// needed) until COMPLETE/ERROR or MaxTicks is exhausted, returning every
// command it emitted.
func driveToCompletion(program []byte, opts interp.Options, maxTicks int) ([]interp.CommandRecord, error) {
	opts.SyncMode = true
	if opts.InlineReader == nil {
		opts.InlineReader = func(string, []interp.Value) (interp.Value, error) { return interp.IntValue(0), nil }
	}
	d, err := interp.New(program, opts)
	if err != nil {
		return nil, err
	}
	if err := d.Start(); err != nil {
		return nil, err
	}
	for i := 0; i < maxTicks; i++ {
		if d.State() == interp.StateComplete || d.State() == interp.StateError {
			break
		}
		d.Tick()
	}
	d.Stop()
	if d.State() == interp.StateError {
		return nil, d.LastError()
	}
	return d.PeekCommands(), nil
}
