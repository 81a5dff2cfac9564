package main

import (
	"os"

	cmd "github.com/meshnetworks/toll/cmd/toll/commands"
)

func main() {
	cmd.ConfigureExit()

	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewKeygenCmd(),
		cmd.NewRunCmd())

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
