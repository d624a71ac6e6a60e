package echo

import (
	cmdUtil "github.com/brayniac/perfprox/cmd/util"
	"github.com/brayniac/perfprox/lib/harness"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EchoCmd runs a TCP echo backend for local benchmarking
var EchoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Start a TCP echo backend",
	Long:  `Start a TCP server that writes every byte it receives back to the sender. Use it as the backend of the proxy together with "perfprox client".`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return cmdUtil.BindCommandFlags(cmd)
	},
	RunE: run,
}

func init() {
	key := "listen"
	EchoCmd.Flags().StringP(key, "l", "127.0.0.1:11211", cmdUtil.WrapString("The address (host:port) the echo server listens on"))
}

func run(_ *cobra.Command, _ []string) error {
	if err := cmdUtil.InitLoggers(); err != nil {
		return err
	}

	ctx, cancel := cmdUtil.SignalContext()
	defer cancel()

	s, err := harness.NewEchoServer(viper.GetString("listen"))
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}
