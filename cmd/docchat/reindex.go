package main

import (
	"context"
	"fmt"
	"io"
)

func runReindex(ctx context.Context, a *app, documentID string, out io.Writer) error {
	if documentID != "" {
		res, err := a.documents.Repair(ctx, documentID)
		if err != nil {
			return fmt.Errorf("repair %s: %w", documentID, err)
		}
		fmt.Fprintf(out, "%s: %s, %d chunks (%d inserted, %d kept, %d failed)\n",
			documentID, res.State(), res.Total, res.Inserted, res.Skipped, res.Failed)
		return nil
	}
	summary, err := a.documents.RepairAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "scanned %d, repaired %d, still incomplete %d\n", summary.Scanned, summary.Repaired, summary.Failed)
	return nil
}
