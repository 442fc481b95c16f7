// Package storage provides abstractions and implementations for storing the
// local copy of feature-flag and segment definitions kept in sync by the
// streaming and polling synchronizers.
//
// The package includes implementations for:
//   - Memory: process-local maps, the default
//   - Redis: shared storage for several SDK instances (consumer mode)
//   - MongoDB: document storage
//
// Storages are shared with the evaluation path and must be safe for
// concurrent use. CreateStorage picks a backend from a connection string:
//
//	flags, segments, err := storage.CreateStorage("redis://localhost:6379")
//
// Change numbers start at -1, meaning "never synchronized".
package storage
