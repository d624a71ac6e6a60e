package client

import (
	"fmt"
	"strings"

	cmdUtil "github.com/brayniac/perfprox/cmd/util"
	"github.com/brayniac/perfprox/lib/harness"
	"github.com/brayniac/perfprox/proxy/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	clientCmdConfig = &common.ClientConfig{}

	// ClientCmd runs the test harness client against the proxy
	ClientCmd = &cobra.Command{
		Use:   "client",
		Short: "Drive traffic through the proxy and check the responses",
		Long: `Connect to the proxy and run a scripted exchange on every connection.

In echo mode each message is sent, the complete echo is read back and
compared byte for byte; run it against a proxy in front of "perfprox echo".
In redis mode PING, SET and GET are issued through a proxy in front of a
redis server. Round-trip statistics are printed at the end.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "target"
	ClientCmd.Flags().StringP(key, "t", common.DefaultListenAddr, cmdUtil.WrapString("The address (host:port) of the proxy"))

	key = "message"
	ClientCmd.Flags().StringSliceP(key, "m", []string{"PING"}, cmdUtil.WrapString("Message to send in echo mode. May be repeated, messages are sent in order"))

	key = "count"
	ClientCmd.Flags().IntP(key, "n", 1000, cmdUtil.WrapString("How many times the script runs on every connection"))

	key = "connections"
	ClientCmd.Flags().IntP(key, "c", 1, cmdUtil.WrapString("Number of concurrent connections"))

	key = "timeout"
	ClientCmd.Flags().Int(key, 5, cmdUtil.WrapString("Timeout in seconds of a single exchange"))

	key = "mode"
	ClientCmd.Flags().String(key, string(common.ClientModeEcho), cmdUtil.WrapString("The protocol to speak (echo, redis)"))
}

// processConfig reads the client configuration from flags and environment
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	clientCmdConfig.Target = viper.GetString("target")
	clientCmdConfig.Messages = viper.GetStringSlice("message")
	clientCmdConfig.Count = viper.GetInt("count")
	clientCmdConfig.Connections = viper.GetInt("connections")
	clientCmdConfig.TimeoutSecond = viper.GetInt("timeout")

	switch mode := common.ClientMode(strings.ToLower(viper.GetString("mode"))); mode {
	case common.ClientModeEcho, common.ClientModeRedis:
		clientCmdConfig.Mode = mode
	default:
		return fmt.Errorf("invalid mode %s (expected one of: echo, redis)", mode)
	}

	if clientCmdConfig.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", clientCmdConfig.Count)
	}
	if clientCmdConfig.Mode == common.ClientModeEcho && len(clientCmdConfig.Messages) == 0 {
		return fmt.Errorf("at least one message is required in echo mode")
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.InitLoggers(); err != nil {
		return err
	}

	ctx, cancel := cmdUtil.SignalContext()
	defer cancel()

	cmd.Println(clientCmdConfig.String())

	config := harness.Config{
		Target:      clientCmdConfig.Target,
		Messages:    clientCmdConfig.Messages,
		Rounds:      clientCmdConfig.Count,
		Connections: clientCmdConfig.Connections,
		Timeout:     clientCmdConfig.Timeout(),
	}

	var result *harness.Result
	var err error
	if clientCmdConfig.Mode == common.ClientModeRedis {
		result, err = harness.RunRedis(ctx, config)
	} else {
		result, err = harness.RunEcho(ctx, config)
	}

	if result != nil {
		cmd.Println(result.String())
	}
	return err
}
