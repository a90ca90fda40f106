package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/lukelocksmith/timemonitor/internal/clickup"
)

// backfillDupFraction is the repeated-entry share on a single page above
// which the import is treated as an upstream pagination defect and
// aborted. The hard page cap below bounds the loop regardless.
const backfillDupFraction = 0.5

const defaultBackfillPages = 100

// Backfill imports historical time entries page by page, persisting each
// as a stopped session. Rows the live paths already wrote are left alone,
// and no events are emitted for historical data.
func (r *Reconciler) Backfill(ctx context.Context) error {
	maxPages := r.cfg.Reconcile.Backfill.MaxPages
	if maxPages <= 0 {
		maxPages = defaultBackfillPages
	}

	seen := make(map[string]bool)
	imported := 0

	for page := 0; page < maxPages; page++ {
		entries, err := r.client.FetchTimeEntriesPage(ctx, page)
		if err != nil {
			return fmt.Errorf("backfill page %d: %w", page, err)
		}
		if len(entries) == 0 {
			break
		}

		dups := 0
		for i := range entries {
			if seen[entries[i].ID.String()] {
				dups++
			}
		}
		if float64(dups) > backfillDupFraction*float64(len(entries)) {
			log.Printf("Backfill aborted at page %d: %d/%d repeated entries (pagination defect)", page, dups, len(entries))
			break
		}

		for i := range entries {
			e := &entries[i]
			id := e.ID.String()
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true

			rec := clickup.NormalizeTimeEntry(e, r.now())
			if rec == nil {
				continue
			}
			rec.DurationMS = r.clampDuration(rec.DurationMS)

			r.mu.Lock()
			_, exists, err := r.store.GetSession(ctx, rec.SessionID)
			if err == nil && !exists {
				if err := r.store.UpsertSession(ctx, rec); err != nil {
					log.Printf("Backfill persist failed for %s: %v", rec.SessionID, err)
				} else {
					imported++
				}
			}
			r.mu.Unlock()
		}
	}

	log.Printf("Backfill complete: %d sessions imported", imported)
	return nil
}
