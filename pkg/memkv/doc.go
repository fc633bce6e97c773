// Package memkv is a sharded, concurrency-safe in-memory key/value store
// with per-key TTL. Expired keys are invisible to readers immediately and
// are physically removed by a background sweeper.
//
// holobridge uses it to remember completed transfer ids so that late
// duplicate chunks do not produce a second artifact, and to lease
// incomplete transfers so that ones with lost chunks are eventually
// dropped. Namespace gives each channel an isolated key prefix on a
// shared store.
package memkv
