// Package server hosts an in-memory Cabinet file server on Fiber. It speaks the
// same protocol commode clients expect from a production Cabinet deployment:
// files, directories and boilerplates addressed by prefix, strong entity tags
// with second-precision Last-Modified, and RFC 9110 conditional requests.
//
// The server backs `commode serve` for local development and doubles as the
// remote end of the client test suites through AppTransport and Recorder.
package server
