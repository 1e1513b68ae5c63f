// Package flock provides exclusive OS byte-range locks on an open file.
//
// Locks are advisory and cover a fixed byte range, so independent locks can
// be anchored on distinct words of the same file. On Linux the locks are
// open file description locks (F_OFD_SETLKW): two descriptors opened by the
// same process exclude each other. Other Unix systems use classic POSIX
// record locks, which are owned per process. Windows uses LockFileEx.
package flock
