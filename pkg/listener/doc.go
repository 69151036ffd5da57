// Package listener provides the listening endpoint of the accept subsystem.
//
// A Listener follows the classic socket lifecycle in separate steps:
//
//	l, err := listener.New("127.0.0.1", 8080) // socket + bind
//	if err != nil {
//	    // errors.Is(err, listener.ErrBind)
//	}
//	defer l.Close()
//
//	if err := l.Listen(); err != nil { // listen, backlog 1
//	    // errors.Is(err, listener.ErrListen)
//	}
//
//	for {
//	    ready, err := l.Wait(time.Second) // one bounded readiness wait
//	    if err != nil {
//	        break
//	    }
//	    if !ready {
//	        continue
//	    }
//	    c, err := l.Accept()
//	    ...
//	}
//
// # Errors
//
// Every failure is an *OpError whose kind is one of ErrBind, ErrListen,
// ErrPoll or ErrAccept. Failures caused by a socket that is closed or no longer
// valid also match ErrClosed, which callers use to tell a dead listener from a
// transient accept failure. ErrNoPending is not a failure: the connection that
// made the socket readable went away before Accept ran.
//
// # Platforms
//
// On Linux and macOS the socket is driven directly through golang.org/x/sys/unix
// with poll(2) as the readiness wait. Elsewhere the net package is used and the
// wait is an accept with a deadline.
package listener
