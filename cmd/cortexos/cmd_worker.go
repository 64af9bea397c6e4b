package main

import (
	"os"

	"github.com/spf13/cobra"

	"cortexos/internal/pool"
)

// workerCmd is the forked-mode entry point. The pool spawns
// "cortexos worker" per task and speaks newline-delimited JSON over stdio:
// ready handshake, one task, one result.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run as a single-task worker process (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pool.RunWorker(os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
