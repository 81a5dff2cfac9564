package commands

import (
	"github.com/meshnetworks/toll/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for Toll
var RootCmd = &cobra.Command{
	Use:              "toll",
	Short:            "toll mesh settlement daemon",
	TraverseChildren: true,
}

//ConfigureExit flips the defaults to exit-gateway mode. The toll-exit binary
//calls it before executing the root command.
func ConfigureExit() {
	RootCmd.Use = "toll-exit"
	RootCmd.Short = "toll exit-gateway settlement daemon"
	_config.ExitMode = true
	_config.WgInterface = config.DefaultExitWgInterface
}
