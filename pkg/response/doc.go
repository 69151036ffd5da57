// Package response provides the payload builders that request handlers write
// back to clients.
//
// A Builder is opaque to the server: whatever bytes it returns are written
// verbatim in a single write. The helpers here frame bodies as minimal
// HTTP/1.1 responses so that browsers and curl display them, but nothing in
// the server depends on that framing.
//
//	server.New(cfg, response.Default())
//	server.New(cfg, response.File("index.html", ""))
//	server.New(cfg, response.S3(response.NewS3Client(s3cfg), "bucket", "index.html"))
package response
