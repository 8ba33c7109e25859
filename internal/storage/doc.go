// Package storage persists the serialized guild tree.
//
// Two drivers share one Store interface: a dependency-free "file" driver
// (atomic JSON snapshot plus an append-only JSONL audit log) and an
// optional "sqlite" driver compiled in with -tags sqlite.
package storage
