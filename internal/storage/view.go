package storage

// View is a writable window onto the store returned by GetRW.
type View struct {
	b     []byte
	addr  uint64
	owner *Mapper // set when b is a copy that must be written back
}

// Bytes returns the window. Writes are visible in the file immediately for
// direct views and after Release for spanning views.
func (v View) Bytes() []byte { return v.b }

// Addr returns the store address of the first byte.
func (v View) Addr() uint64 { return v.addr }

// Len returns the window size in bytes.
func (v View) Len() int { return len(v.b) }

// Spanning reports whether the view is a copy of bytes from more than one
// region.
func (v View) Spanning() bool { return v.owner != nil }

// Release writes a spanning view back to the mapping. It is a no-op for
// direct views.
func (v View) Release() error {
	if v.owner == nil {
		return nil
	}
	return v.owner.WriteAt(v.b, v.addr)
}
