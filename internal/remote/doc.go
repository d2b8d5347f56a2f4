// Package remote translates resource operations into HTTP requests against a
// Cabinet server and classifies every response into exactly one Outcome.
//
// A Client holds the immutable connection settings derived from config. Each
// CLI command opens one Session, which owns its own transport so that a
// multi-resource operation (installing a boilerplate, for example) reuses
// connections, and closes it on every exit path. Sessions are not safe for
// concurrent use.
package remote
