// Package sandbox confines every filesystem access of the engine to a single
// data root. Guard resolves and validates paths, Policy carries the
// process-wide deletion ban, and FS is the capability-restricted filesystem
// handed to operations at construction time.
package sandbox
