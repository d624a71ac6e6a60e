package util

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brayniac/perfprox/proxy/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of every environment variable read by perfprox
	EnvPrefix = "perfprox"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read PERFPROX_* variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Logging flags
// --------------------------------------------------------------------------

// SetupLogFlags adds the stacking -v flag and --log-level to a command and
// all of its children
func SetupLogFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().CountP("verbose", "v", WrapString("Increase verbosity, may be repeated: -v logs at debug level, -vv also traces every reactor event"))

	key := "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error). -v takes precedence"))
}

// GetLogLevel resolves the effective log level from -v and --log-level
func GetLogLevel() string {
	return common.LevelFromVerbosity(viper.GetInt("verbose"), viper.GetString("log-level"))
}

// InitLoggers configures every package logger from the log flags
func InitLoggers() error {
	return common.InitLoggers(GetLogLevel())
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
