// Package cache defines the local store that remembers, for every remote
// resource a user has touched, the last validator (ETag), Last-Modified time
// and decoded payload observed from the Cabinet server. Records live in one
// gkvlite file under the cache directory, one collection per namespace.
//
// Every Store method is an independent transaction guarded by a machine-wide
// mutex: the file is opened, read or mutated, flushed and closed before the
// call returns, so concurrent CLI processes never observe torn writes. Entry
// state machines depend on this package to supply the preconditions for
// conditional requests without knowing how records are persisted.
package cache
