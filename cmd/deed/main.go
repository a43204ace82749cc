// Package main provides the Deed CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deeddb/deed/pkg/config"
	"github.com/deeddb/deed/pkg/engine"
	"github.com/deeddb/deed/pkg/graph"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deed",
		Short: "Deed - Adaptive query engine for hybrid relational/graph data",
		Long: `Deed is an in-memory hybrid store queried through DQL, a unified
language for relational filtering and graph traversal in one statement.

Query plans are tuned by an ant colony optimizer and remembered in a
stigmergy cache: plans that keep working keep getting picked, plans that
stop being used evaporate away.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: auto-discover)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deed %s (commit %s, built %s)\n", version, commit, buildTime)
		},
	})

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive DQL shell over an in-memory store",
		RunE:  runShell,
	}
	rootCmd.AddCommand(shellCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	return config.LoadFromFile(path)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	store := graph.NewMemoryGraph()
	eng := engine.New(store, engine.Options{
		Ants:                cfg.Optimizer.Ants,
		Iterations:          cfg.Optimizer.Iterations,
		Patience:            cfg.Optimizer.Patience,
		Seed:                cfg.Optimizer.Seed,
		CacheCapacity:       cfg.Cache.Capacity,
		EvaporationInterval: cfg.Cache.EvaporationInterval,
	}, log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eng.StartEvaporation(ctx)

	fmt.Println("Deed DQL shell. Type \\help for commands, exit or Ctrl+D to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("deed> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if strings.HasPrefix(line, "\\") {
			if done := runShellCommand(ctx, eng, store, line); done {
				break
			}
			continue
		}

		result, err := eng.Execute(ctx, line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printResult(result)
	}
	return scanner.Err()
}

// runShellCommand handles backslash commands. Returns true on \quit.
func runShellCommand(ctx context.Context, eng *engine.Engine, store *graph.MemoryGraph, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "\\help":
		fmt.Println(`Commands:
  \explain <query>        show naive and optimized plans without running
  \index <collection> <field>   create an ordered property index
  \stats                  show store and plan cache statistics
  \help                   this help
  \quit                   leave the shell`)
	case "\\quit":
		return true
	case "\\explain":
		query := strings.TrimSpace(strings.TrimPrefix(line, "\\explain"))
		if query == "" {
			fmt.Println("Usage: \\explain <query>")
			return false
		}
		ex, err := eng.Explain(ctx, query)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Printf("naive:  %s  (cost %.1f)\n", ex.NaivePlan, ex.NaiveCost)
		fmt.Printf("chosen: %s  (cost %.1f)\n", ex.ChosenPlan, ex.ChosenCost)
		if len(ex.Transformations) > 0 {
			fmt.Printf("via:    %s\n", strings.Join(ex.Transformations, ", "))
		}
		if ex.Cached {
			fmt.Println("(from plan cache)")
		}
	case "\\index":
		if len(fields) != 3 {
			fmt.Println("Usage: \\index <collection> <field>")
			return false
		}
		store.CreateIndex(fields[1], fields[2])
		fmt.Printf("Indexed %s.%s\n", fields[1], fields[2])
	case "\\stats":
		stats := store.Stats()
		fmt.Printf("entities: %d  edges: %d  avg pheromone: %.2f\n",
			stats.EntityCount, stats.EdgeCount, stats.AvgPheromone)
		for name, n := range stats.Collections {
			fmt.Printf("  %s: %d\n", name, n)
		}
		cs := eng.CacheStats()
		fmt.Printf("plan cache: %d entries, %d hits, %d misses, %d evictions\n",
			cs.Entries, cs.Hits, cs.Misses, cs.Evictions)
		if cs.Entries > 0 {
			fmt.Printf("  pheromone min/avg/max: %.2f / %.2f / %.2f\n",
				cs.MinPheromone, cs.AvgPheromone, cs.MaxPheromone)
		}
	default:
		fmt.Printf("Unknown command %s (try \\help)\n", fields[0])
	}
	return false
}

func printResult(result *engine.Result) {
	if len(result.Columns) > 0 {
		header := strings.Join(result.Columns, " | ")
		fmt.Println(header)
		fmt.Println(strings.Repeat("-", len(header)))
		for _, row := range result.Rows {
			values := make([]string, len(row))
			for i, v := range row {
				if v == nil {
					values[i] = "null"
					continue
				}
				values[i] = fmt.Sprintf("%v", v)
			}
			fmt.Println(strings.Join(values, " | "))
		}
		fmt.Printf("\n(%d row(s)", len(result.Rows))
	} else {
		fmt.Printf("(%d row(s) affected", result.RowsAffected)
	}
	if result.Cached {
		fmt.Print(", cached plan")
	}
	fmt.Println(")")
	fmt.Println()
}
