package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voxterm",
		Short: "Voice input overlay for terminal AI assistants",
		Long: "voxterm wraps an interactive CLI assistant in a pseudo-terminal, passes its " +
			"screen through untouched, and injects transcribed speech as keystrokes. " +
			"One reserved row at the bottom shows capture state.",
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
