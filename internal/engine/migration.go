package engine

import (
	"context"
	"fmt"
	"sort"

	"castline/internal/events"
	"castline/internal/status"
	"castline/internal/store"
)

// MigrationSummary reports a legacy submission status migration.
type MigrationSummary struct {
	Scanned         int            `json:"scanned"`
	Migrated        int            `json:"migrated"`
	Unchanged       int            `json:"unchanged"`
	Mapped          map[string]int `json:"mapped"`
	PinnedOverrides int            `json:"pinnedOverrides"`
	FlagsDropped    int            `json:"flagsDropped"`
	Unmapped        []string       `json:"unmapped"`
	DryRun          bool           `json:"dryRun"`
	Writes          ClassResult    `json:"writes"`
}

// MigrateLegacySubmissionStatuses rewrites retired submission statuses and
// drops the legacy pinned flag. Statuses outside the mapping are kept and
// listed in Unmapped. Running it again is a no-op.
func (e Engine) MigrateLegacySubmissionStatuses(ctx context.Context, actorID string, dryRun bool) (MigrationSummary, error) {
	docs, err := e.Repo.ListSubmissionDocuments(ctx)
	if err != nil {
		return MigrationSummary{}, fmt.Errorf("scan submissions: %w", err)
	}
	sum := MigrationSummary{Scanned: len(docs), Mapped: map[string]int{}, Unmapped: []string{}, DryRun: dryRun}
	unmapped := map[string]bool{}
	now := e.timestamp()
	var muts []store.Mutation
	for _, doc := range docs {
		out := status.MigrateLegacySubmission(doc.Data["status"], doc.Data["pinned"])
		if !out.Mapped && !out.To.Valid() && !unmapped[out.From] {
			unmapped[out.From] = true
			sum.Unmapped = append(sum.Unmapped, out.From)
		}
		if !out.Changed() {
			sum.Unchanged++
			continue
		}
		if out.Mapped && string(out.To) != out.From {
			sum.Mapped[fmt.Sprintf("%s->%s", out.From, out.To)]++
		}
		if out.PinnedOverride {
			sum.PinnedOverrides++
		}
		var remove []string
		if out.DropPinnedFlag {
			sum.FlagsDropped++
			remove = append(remove, "pinned")
		}
		fields := map[string]any{"updatedAt": now}
		if !out.KeepStatus {
			fields["status"] = out.To.Value()
		}
		muts = append(muts, store.Update(store.Submissions, doc.ID, fields, remove...))
	}
	sort.Strings(sum.Unmapped)
	log := e.logger().With("actor_id", actorID, "scanned", sum.Scanned, "pending", len(muts), "dry_run", dryRun)
	if dryRun {
		sum.Writes = ClassResult{Class: ClassSubmissions, Matched: len(muts)}
		log.Info("legacy status migration planned")
		return sum, nil
	}

	sum.Writes, err = e.writeClass(ctx, ClassSubmissions, muts)
	sum.Migrated = sum.Writes.Succeeded
	if sum.Migrated > 0 {
		evt := e.Events.Mutation("submission.status_migrate", "", "submission", "", actorID, events.EventPayload{
			"migrated":        sum.Migrated,
			"mapped":          sum.Mapped,
			"pinnedOverrides": sum.PinnedOverrides,
			"flagsDropped":    sum.FlagsDropped,
		})
		if evtErr := e.commitChunk(ctx, ClassEvents, 0, []store.Mutation{evt}); evtErr != nil {
			log.Warn("migration event not recorded", "err", evtErr)
		}
	}
	if err != nil {
		log.Error("legacy status migration incomplete", "err", err)
		return sum, err
	}
	log.Info("legacy status migration finished", "migrated", sum.Migrated, "unmapped", len(sum.Unmapped))
	return sum, nil
}
