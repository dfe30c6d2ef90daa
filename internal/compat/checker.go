package compat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"caliper/internal/factstore"
	"caliper/internal/slogutil"
	"caliper/internal/tracer"
)

// Store is the part of the fact store the checker queries.
type Store interface {
	HasModule(ctx context.Context, path string) (bool, error)
	GetModule(ctx context.Context, path string) ([]factstore.Record, error)
}

// Checker compares traced calls with every stored version of the callee.
type Checker struct {
	store  Store
	ledger *Ledger
	logger *slog.Logger
}

// NewChecker returns a checker that records into ledger.
func NewChecker(store Store, ledger *Ledger, logger *slog.Logger) *Checker {
	return &Checker{store: store, ledger: ledger, logger: slogutil.Or(logger)}
}

// Ledger returns the ledger facts are recorded in.
func (c *Checker) Ledger() *Ledger {
	return c.ledger
}

// InspectTrace checks one call event. Calls into modules whose root is not
// in the store are ignored, as are module bodies. A callee missing from
// every version is a missing-module fact; a call passing more arguments
// than a version declares is a too-many-args fact for that version.
func (c *Checker) InspectTrace(ctx context.Context, ev tracer.Event) error {
	if ev.Event != "call" {
		return nil
	}
	known, err := c.store.HasModule(ctx, ev.Module)
	if err != nil {
		return err
	}
	if !known || ev.Function == "<module>" {
		return nil
	}

	records, err := c.store.GetModule(ctx, ev.Path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		if c.ledger.AddMissing(ev) {
			c.logger.Debug("Module missing in all versions", "module", ev.Module, "path", ev.Path)
		}
		return nil
	}

	for i := range records {
		rec := &records[i]
		c.ledger.SeeVersion(rec.Tag)

		var reason string
		switch {
		case len(ev.Args) > 0 && len(rec.Params) == 0:
			reason = fmt.Sprintf("Found %s in trace but function allows zero", argList(ev.Args))
		case len(ev.Args) > len(rec.Params):
			names := make([]string, len(rec.Params))
			for j, p := range rec.Params {
				names[j] = p.Name
			}
			reason = fmt.Sprintf("Found %s in trace but function allows %s", argList(ev.Args), argList(names))
		default:
			continue
		}
		if c.ledger.Add(Fact{
			Version: rec.Tag,
			Path:    rec.Path,
			Tag:     TagTooManyArgs,
			Reason:  reason,
			Trace:   ev,
			Module:  rec,
		}) {
			c.logger.Debug("Incompatible call", "version", rec.Tag, "path", rec.Path, "reason", reason)
		}
	}
	return nil
}

func argList(names []string) string {
	return "(" + strings.Join(names, ",") + ")"
}
