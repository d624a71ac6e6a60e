// Package common holds the configuration structures and the logging setup
// shared by the perfprox commands and the proxy server.
//
// Key Components:
//
//   - ProxyConfig: listen, backend and stats addresses, session table and
//     buffer sizing, socket options and logging settings of the proxy.
//     Provides a human readable String() used at startup.
//
//   - ClientConfig: settings of the test harness client (target, scripted
//     messages, repetition, mode).
//
//   - Logger: custom formatter plugged into Dragonboat's logger facade, so
//     every package logs through logger.GetLogger(name) with one format.
package common
