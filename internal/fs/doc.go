// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open store file that can be read, written, truncated, synced
//     and memory mapped through its descriptor
//   - [FileSystem]: filesystem operations needed to create a store atomically
//     (temporary file, rename) and to open an existing one
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (failed syncs, short writes)
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR, 0o644)
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("store.db", fs.Fault{FailOnSync: true})
package fs
