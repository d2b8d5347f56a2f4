// Package entry implements the synchronization state machine shared by every
// remote resource kind. An Entry consults the cache store for the last known
// validator, turns it into preconditions for a single remote request and
// reconciles the outcome back into the cache: a read that the server confirms
// fresh is served locally, a write or delete against a stale validator fails
// with a conflict and leaves the cache untouched.
//
// Files and boilerplates share the same Entry type, parameterized by a Codec
// that converts the payload to and from its wire form.
package entry
