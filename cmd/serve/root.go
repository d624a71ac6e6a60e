package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/brayniac/perfprox/cmd/util"
	"github.com/brayniac/perfprox/proxy/common"
	"github.com/brayniac/perfprox/proxy/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultProxyConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the proxy",
		Long:    `Start the proxy with the specified configuration. This is the same as running perfprox without a subcommand. The configuration can be set via command line flags or environment variables. The format of the environment variables is PERFPROX_<flag> (e.g. PERFPROX_BACKEND=127.0.0.1:6379)`,
		PreRunE: ProcessConfig,
		RunE:    Run,
	}
)

func init() {
	SetupFlags(ServeCmd)
}

// SetupFlags adds the proxy flags to cmd
func SetupFlags(cmd *cobra.Command) {
	d := common.DefaultProxyConfig()

	key := "listen"
	cmd.Flags().StringP(key, "l", d.ListenAddr, cmdUtil.WrapString("The address (host:port) on which the proxy accepts client connections"))

	key = "backend"
	cmd.Flags().StringP(key, "b", d.BackendAddr, cmdUtil.WrapString("The address (host:port) of the backend every client is relayed to"))

	key = "stats"
	cmd.Flags().StringP(key, "s", d.StatsAddr, cmdUtil.WrapString("The address (host:port) serving /metrics, /stats and /healthz. An empty value disables the endpoint"))

	key = "buffer-size"
	cmd.Flags().Int(key, d.BufferSize, cmdUtil.WrapString("Size in bytes of the single buffer of each session. A request or response is read with one call of at most this size"))

	key = "max-sessions"
	cmd.Flags().Int(key, d.MaxSessions, cmdUtil.WrapString("Maximum number of concurrent sessions. Connections beyond this limit are closed right after accept"))

	key = "tcp-nodelay"
	cmd.Flags().Bool(key, d.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY on client and backend sockets"))

	key = "dial-timeout"
	cmd.Flags().Int(key, d.DialTimeoutMillis, cmdUtil.WrapString("Timeout in milliseconds for connecting to the backend. The connect blocks the event loop, 0 waits forever"))

	key = "poll-events"
	cmd.Flags().Int(key, d.PollEvents, cmdUtil.WrapString("Maximum number of readiness events handled per poll"))

	key = "reservoir-size"
	cmd.Flags().Int(key, d.ReservoirSize, cmdUtil.WrapString("Number of samples kept per category to compute percentiles"))
}

// ProcessConfig reads the configuration from the command line flags and
// environment variables and converts it to the proxy configuration
func ProcessConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.ListenAddr = strings.TrimSpace(viper.GetString("listen"))
	serveCmdConfig.BackendAddr = strings.TrimSpace(viper.GetString("backend"))
	serveCmdConfig.StatsAddr = strings.TrimSpace(viper.GetString("stats"))
	serveCmdConfig.BufferSize = viper.GetInt("buffer-size")
	serveCmdConfig.MaxSessions = viper.GetInt("max-sessions")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.DialTimeoutMillis = viper.GetInt("dial-timeout")
	serveCmdConfig.PollEvents = viper.GetInt("poll-events")
	serveCmdConfig.ReservoirSize = viper.GetInt("reservoir-size")
	serveCmdConfig.LogLevel = cmdUtil.GetLogLevel()
	serveCmdConfig.Trace = serveCmdConfig.LogLevel == "trace"

	if err := serveCmdConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Run starts the proxy and blocks until SIGINT or SIGTERM
func Run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	ctx, cancel := cmdUtil.SignalContext()
	defer cancel()

	s, err := server.NewProxyServer(*serveCmdConfig)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Serve(ctx)
}
