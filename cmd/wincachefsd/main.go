// Command wincachefsd loads a compiler-cache config, builds the engine,
// exposes it through a FUSE mount, and drains cleanly on signal. One
// cobra.Command var per file, registered in this file's init.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "wincachefsd",
	Short: "Mount remote compiler toolchains as a read-through memory cache",
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(
		serveCommand,
		validateConfigCommand,
		debugCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
