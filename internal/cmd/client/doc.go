// Package client provides the operator-facing `hostlive` commands that talk
// to a running agent's status servers.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:9090 (HOSTLIVE_HTTP). The gRPC address is
// read from HOSTLIVE_GRPC (default 127.0.0.1:50051).
//
// Usage
//
//	hostlive status
//	hostlive status --grpc --service hostlive.finance
//
//	hostlive instance list
//	hostlive instance background 6f1c...
//	hostlive instance foreground 6f1c...
//	hostlive instance filter 6f1c... --set property=p-1
package client
