package driver

import (
	"context"
	"path/filepath"

	"github.com/odvcencio/csforge/pkg/ledger"
	"github.com/odvcencio/csforge/pkg/project"
)

type ledgerHandle struct {
	ledger *ledger.Ledger
}

// openLedgerFor opens the sqlite ledger under a project's hidden build
// directory, creating it on first run.
func openLedgerFor(ctx context.Context, proj *project.Project) (*ledgerHandle, error) {
	path := filepath.Join(proj.CsbuildDir, "ledger.sqlite")
	l, err := ledger.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &ledgerHandle{ledger: l}, nil
}
