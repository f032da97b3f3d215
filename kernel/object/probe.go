package object

// AsStream probes obj for StreamOps support.
func AsStream(obj KernelObject) (StreamOps, bool) {
	s, ok := obj.(StreamOps)
	return s, ok
}

// AsFile probes obj for FileObject support.
func AsFile(obj KernelObject) (FileObject, bool) {
	f, ok := obj.(FileObject)
	return f, ok
}

// AsControl probes obj for ControlOps support.
func AsControl(obj KernelObject) (ControlOps, bool) {
	c, ok := obj.(ControlOps)
	return c, ok
}

// AsMmappable probes obj for MemoryMappingOps support.
func AsMmappable(obj KernelObject) (MemoryMappingOps, bool) {
	m, ok := obj.(MemoryMappingOps)
	return m, ok
}

// AsCloneable probes obj for CloneOps support.
func AsCloneable(obj KernelObject) (CloneOps, bool) {
	c, ok := obj.(CloneOps)
	return c, ok
}

// AsEventIpc probes obj for EventIpcOps support.
func AsEventIpc(obj KernelObject) (EventIpcOps, bool) {
	e, ok := obj.(EventIpcOps)
	return e, ok
}
