package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/config"
	"github.com/openfroyo/stardrive/pkg/engine"
)

func newInspectCommand(opts *globalOptions) *cobra.Command {
	var (
		showGraph bool
		showDOT   bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [script [args...]]",
		Short: "Show what the cache recorded for a task",
		Long: `Show the cached trace of a task: the script and argument digests, every
tracked observation in discovery order, and the declared output.

With --graph the whole recorded task graph is printed by level, leaves first.
With --dot it is printed in Graphviz format.`,
		Example: `  # Inspect the root task
  stardrive inspect

  # Inspect one page task
  stardrive inspect pages/page.star '"content/about.md"'

  # Render the task graph
  stardrive inspect --dot | dot -Tsvg > graph.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if showGraph || showDOT {
				entries, corrupt, err := store.ListEntries(ctx)
				if err != nil {
					return err
				}
				graph, err := engine.NewGraphBuilder().Build(entries)
				if err != nil {
					return err
				}
				switch {
				case showDOT:
					fmt.Fprint(out, graph.ToDOT())
					return nil
				case opts.jsonOutput:
					return writeJSON(out, graph)
				}
				printGraph(out, graph, corrupt)
				return nil
			}

			id, err := rootTask(cfg, args)
			if err != nil {
				return err
			}
			entry, err := store.GetEntry(ctx, id.Key())
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no cache entry for %s, run a build first", id)
			}

			if opts.jsonOutput {
				return writeJSON(out, entry)
			}
			printEntry(out, cfg, entry)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showGraph, "graph", false, "print the recorded task graph")
	cmd.Flags().BoolVar(&showDOT, "dot", false, "print the recorded task graph in DOT format")

	return cmd
}

func printEntry(w io.Writer, cfg *config.Config, e *engine.CacheEntry) {
	fmt.Fprintf(w, "Task:    %s\n", e.Identity)
	fmt.Fprintf(w, "Script:  %s\n", e.ScriptHash)
	fmt.Fprintf(w, "Args:    %s\n", e.ArgsHash)
	fmt.Fprintf(w, "Updated: %s\n", e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(w, "\nDependencies (%d):\n", len(e.Trace.Records))
	for i, rec := range e.Trace.Records {
		fmt.Fprintf(w, "  %3d. %s\n", i+1, rec)
	}

	fmt.Fprintf(w, "\nOutput:\n")
	if e.Output == nil {
		fmt.Fprintf(w, "  (none)\n")
		return
	}
	if e.Output.Name != "" {
		fmt.Fprintf(w, "  file:  %s/%s (%d bytes)\n", cfg.OutputDir, e.Output.Name, e.Output.Size)
	}
	if e.Output.Value != nil {
		data, err := json.Marshal(e.Output.Value)
		if err != nil {
			data = []byte(fmt.Sprint(e.Output.Value))
		}
		fmt.Fprintf(w, "  value: %s\n", data)
	}
	fmt.Fprintf(w, "  hash:  %s\n", e.Output.Hash())
}

func printGraph(w io.Writer, g *engine.Graph, corrupt int) {
	fmt.Fprintf(w, "Tasks: %d  Edges: %d  Levels: %d\n", len(g.Nodes), len(g.Edges), g.Depth())
	if corrupt > 0 {
		fmt.Fprintf(w, "Skipped %d corrupt entries\n", corrupt)
	}

	for level, keys := range g.Levels {
		fmt.Fprintf(w, "\nLevel %d:\n", level)
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		for _, key := range sorted {
			n := g.Nodes[key]
			marker := ""
			if !n.Cached {
				marker = " (no entry)"
			}
			fmt.Fprintf(w, "  %s%s\n", n.Identity, marker)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
