// Package prefork
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Preforking connection dispatch.
//
// A master owns one listening socket and a fixed roster of long-lived
// workers. Each worker runs its own edge-triggered epoll loop and is reached
// through a private control channel. When the listener becomes readable the
// master picks the next live worker round-robin and writes a one-byte
// dispatch token to it; only that worker wakes up and performs the accept,
// so a burst of connections never wakes every worker at once.
//
// The master watches the listener edge-triggered and sends exactly one token
// per readiness edge. Connections that queue up within a single edge, or
// before Run registers the listener, are not dispatched on their own: they
// wait in the backlog until a later connection raises a new edge. Size the
// listen backlog with that in mind when clients connect in bursts.
//
// Signals are relayed into each loop as bytes on a socket and handled at the
// top of the loop, never inside the signal path:
//   - SIGCHLD in the master reaps exited workers and marks them dead.
//     A dead worker is never replaced; when none is left the master stops.
//   - SIGTERM/SIGINT in the master is forwarded once to every live worker.
//   - SIGTERM/SIGINT in a worker stops its loop.
//
// Workers are either re-executed copies of the current binary (SpawnProcess,
// the default) or goroutines inside the master (SpawnGoroutine). In process
// mode the program must create its listener with Listen and construct the
// pool with New in both roles:
//
//	ln, err := prefork.Listen("tcp", ":8080")
//	if err != nil {
//		log.Fatal(err)
//	}
//	pool, err := prefork.New(ln.(prefork.Listener), newSession, prefork.WithWorkers(4))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := pool.Run(); err != nil {
//		log.Fatal(err)
//	}
//	ln.Close()
//
// The listener belongs to the caller; the pool never closes it.
package prefork
