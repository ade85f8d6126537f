package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// gcResult is the outcome of a garbage collection.
type gcResult struct {
	Reachable      int    `json:"reachable"`
	EntriesRemoved int    `json:"entries_removed"`
	ObjectsRemoved int    `json:"objects_removed"`
	BytesFreed     int64  `json:"bytes_freed"`
	DryRun         bool   `json:"dry_run"`
	Root           string `json:"root"`
}

func newGCCommand(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc [script [args...]]",
		Short: "Remove cache entries and objects the root task no longer reaches",
		Long: `Walk the recorded task graph from the root task and delete every cache
entry it does not reach, then delete stored objects that no remaining entry
or cached remote input refers to.`,
		Example: `  # Collect garbage for the configured entry
  stardrive gc

  # See what would be removed
  stardrive gc --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			root, err := rootTask(cfg, args)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, corrupt, err := store.ListEntries(ctx)
			if err != nil {
				return err
			}
			keep := reachable(entries, root)

			result := gcResult{Reachable: len(keep), DryRun: dryRun, Root: root.String()}
			if dryRun {
				result.EntriesRemoved = len(entries) + corrupt - len(keep)
			} else {
				before, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				if result.EntriesRemoved, err = store.PruneEntries(ctx, keep); err != nil {
					return err
				}
				if result.ObjectsRemoved, err = store.CollectGarbage(ctx); err != nil {
					return err
				}
				after, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				result.BytesFreed = before.ObjectBytes - after.ObjectBytes
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, result)
			}
			if dryRun {
				fmt.Fprintf(out, "Would remove %d of %d cache entries (root %s)\n", result.EntriesRemoved, len(entries)+corrupt, result.Root)
				return nil
			}
			fmt.Fprintf(out, "✓ Removed %d cache entries and %d objects, freed %s\n",
				result.EntriesRemoved, result.ObjectsRemoved, humanize.Bytes(uint64(max(result.BytesFreed, 0))))
			fmt.Fprintf(out, "  %d entries reachable from %s\n", result.Reachable, result.Root)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")

	return cmd
}

// reachable returns the keys of the cached entries reachable from root
// through subtask records. Corrupt entries are never listed and so never
// kept.
func reachable(entries []*engine.CacheEntry, root engine.TaskIdentity) []string {
	byKey := make(map[string]*engine.CacheEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
	}

	var keep []string
	seen := map[string]bool{root.Key(): true}
	queue := []string{root.Key()}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		e, ok := byKey[key]
		if !ok {
			continue
		}
		keep = append(keep, key)
		for _, rec := range e.Trace.Records {
			if rec.Kind != engine.RecordSubtaskOutput || rec.Task == nil {
				continue
			}
			child := rec.Task.Key()
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return keep
}
