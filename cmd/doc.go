// Package cmd implements the command-line interface of perfprox. Running the
// binary without a subcommand starts the proxy.
//
// The package is organized into several subpackages:
//
//   - serve: flags, configuration and startup of the proxy
//   - client: the test harness client (echo and redis mode)
//   - echo: a TCP echo backend for local benchmarking
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See perfprox --help for a list of all commands.
package cmd
