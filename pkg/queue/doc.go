// Package queue provides the connection queue between the accept loop and the
// request handlers.
//
// The queue is an unbounded FIFO with one producer and any number of
// consumers. Items are handed off by value, so for pointer types the queue
// transfers ownership: an item returned by Dequeue is never returned to a
// second consumer.
//
//	q := queue.New[*conn.Conn]()
//
//	// producer
//	q.Enqueue(c)
//
//	// consumer
//	for {
//	    c, err := q.Dequeue(ctx)
//	    if err != nil {
//	        return // queue.ErrClosed after Close and drain
//	    }
//	    handle(c)
//	}
//
// There is no capacity limit and therefore no backpressure on the producer.
package queue
