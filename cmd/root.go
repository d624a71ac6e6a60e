package cmd

import (
	"fmt"
	"os"

	"github.com/brayniac/perfprox/cmd/client"
	"github.com/brayniac/perfprox/cmd/echo"
	"github.com/brayniac/perfprox/cmd/serve"
	"github.com/brayniac/perfprox/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.2.0"
)

var (

	// RootCmd runs the proxy when called without any subcommands
	RootCmd = &cobra.Command{
		Use:     "perfprox",
		Short:   "latency measuring TCP proxy",
		Version: Version,
		Long: fmt.Sprintf(`perfprox (v%s)

A single-threaded TCP proxy for strict request/response protocols. It
relays every client to one backend byte for byte and measures how long
the backend and the client take for each exchange.`, Version),
		Args:    cobra.NoArgs,
		PreRunE: serve.ProcessConfig,
		RunE:    serve.Run,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of perfprox",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("perfprox v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCmd)
	RootCmd.AddCommand(echo.EchoCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupLogFlags(RootCmd)
	serve.SetupFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
