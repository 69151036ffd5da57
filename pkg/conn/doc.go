// Package conn provides the owned connection handle passed from the accept loop
// through the connection queue to a request handler.
//
// A *Conn is closed exactly once. The first Close reaches the socket, every
// later call is a no-op, so a handler can defer Close unconditionally without
// risking a double close of a reused descriptor.
//
//	c := conn.New(nc)
//	defer c.Close()
//
//	buf := make([]byte, 30720)
//	n, err := c.Read(buf)
package conn
