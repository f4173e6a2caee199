package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wincachefs/wincachefs/internal/config"
	"github.com/wincachefs/wincachefs/internal/memcache"
	"github.com/wincachefs/wincachefs/internal/tree"
	"github.com/wincachefs/wincachefs/internal/upstream"
	"github.com/wincachefs/wincachefs/internal/wincontext"
	"github.com/wincachefs/wincachefs/pkg/logging"
)

// debugCommand groups troubleshooting subcommands that build the engine
// against a config file without mounting it anywhere.
var debugCommand = &cobra.Command{
	Use:   "debug",
	Short: "Inspect the directory tree and cache entry table without mounting",
}

var debugConfigPath string

func init() {
	debugCommand.PersistentFlags().StringVarP(&debugConfigPath, "config", "c", "", "path to the YAML config file (required)")
	_ = debugCommand.MarkPersistentFlagRequired("config")
	debugCommand.AddCommand(debugTreeCommand, debugCacheCommand)
}

var debugTreeCommand = &cobra.Command{
	Use:   "tree",
	Short: "Print directory tree statistics and the full path listing",
	RunE:  runDebugTree,
}

var debugCacheCommand = &cobra.Command{
	Use:   "cache",
	Short: "Print cache entry table statistics",
	RunE:  runDebugCache,
}

func buildDebugContext() (*wincontext.Context, *config.Configuration, error) {
	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(debugConfigPath); err != nil {
		return nil, nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	wc := wincontext.Build(context.Background(), upstream.NewLocalReader(), wincontext.Options{
		Roots:           cfg.CompilerRoots(),
		CaseFold:        !cfg.Global.CaseSensitive,
		DownloadThreads: cfg.Global.DownloadThreads,
		EvictionMode:    memcache.Soft,
		Log:             logging.Nop(),
	})
	return wc, cfg, nil
}

func runDebugTree(cmd *cobra.Command, args []string) error {
	wc, _, err := buildDebugContext()
	if err != nil {
		return err
	}
	defer wc.Shutdown()

	stats := wc.Tree.Stats()
	fmt.Printf("nodes: %d (dirs: %d, files: %d)\n", stats.TotalNodes, stats.TotalDirectories, stats.TotalFiles)

	var paths []string
	var walk func(n *tree.Node)
	walk = func(n *tree.Node) {
		paths = append(paths, string(n.VirtualPath))
		for _, c := range n.Children() {
			walk(c)
		}
	}
	if root := wc.Tree.Find("/"); root != nil {
		walk(root)
	}
	sort.Strings(paths)
	fmt.Println(strings.Join(paths, "\n"))
	return nil
}

func runDebugCache(cmd *cobra.Command, args []string) error {
	wc, _, err := buildDebugContext()
	if err != nil {
		return err
	}
	defer wc.Shutdown()

	fmt.Printf("entries: %d, bytes cached: %d\n", wc.Entries.Count(), wc.Memcache.SizeBytes())
	for _, e := range wc.Entries.Snapshot() {
		fmt.Printf("%-8s %-10s %10d  %s\n", wc.Entries.State(e), e.Policy, e.Size, e.VirtualPath)
	}
	return nil
}
