// Package boilerplate turns a stored boilerplate (client path pattern to
// server file name) into concrete local files. Resolve substitutes environment
// variables into the client-side paths; Installer fetches the boilerplate and
// every file it references through cache-aware entries and writes them out.
package boilerplate
