// Package harness contains the tools used to exercise the proxy end to end:
// an echo backend, a scripted echo client and a redis client that drives a
// redis backend through the proxy.
//
// The clients send one message at a time, wait for the complete response and
// record the round-trip time of every exchange, which matches the strict
// request/response discipline the relay expects.
package harness
