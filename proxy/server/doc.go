// Package server wires the relay core, the stats receiver and the stats HTTP
// endpoint into a runnable proxy and manages their lifecycle.
//
// Usage:
//
//	s, err := server.NewProxyServer(*config)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	if err := s.Serve(ctx); err != nil {
//		return err
//	}
//
// Serve runs the reactor on its own locked OS thread, aggregates samples in a
// second goroutine and serves HTTP in a third. Cancelling ctx stops all of
// them; the reactor tears down every session before the receiver drains its
// queue, so close samples of the shutdown are still counted.
package server
