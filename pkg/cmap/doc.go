// Package cmap provides a concurrent string-keyed map split into shards.
//
// Each shard has its own RWMutex, so operations on keys that land in
// different shards never contend. Iteration locks one shard at a time and
// therefore observes a per-shard consistent, not a global, snapshot.
package cmap
