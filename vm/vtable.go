package vm

// Virtual dispatch over a class's vtable.
//
// Slots are assigned at link time: a subclass copies its superclass's
// table, overrides reuse the inherited slot and new virtual methods are
// appended. A linked vtable is never reordered.

// Lookup returns the method at a vtable slot, or nil when out of range.
func (c *Class) Lookup(slot int) *Method {
	if slot >= 0 && slot < len(c.VTable) {
		return c.VTable[slot]
	}
	return nil
}

// VTableIndex returns m's slot, or -1 if m is not virtual.
func VTableIndex(m *Method) int {
	if !m.IsVirtual() {
		return -1
	}
	return m.Offset
}

// FindVirtualMethod dispatches method on the receiver's class.
func FindVirtualMethod(receiver *Class, method *Method) *Method {
	if method.Class.IsInterface() {
		return FindInterfaceMethod(receiver, method)
	}
	return receiver.Lookup(method.Offset)
}

// FindInterfaceMethod returns receiver's implementation of an interface
// method using the interface table.
func FindInterfaceMethod(receiver *Class, method *Method) *Method {
	iface := method.Class
	for i, c := range receiver.Interfaces {
		if c == iface && i < len(receiver.InterfaceVTables) {
			table := receiver.InterfaceVTables[i]
			if method.Offset < len(table) {
				return table[method.Offset]
			}
		}
	}
	// interfaces of interfaces and Object methods called through an
	// interface fall back to a name lookup
	return findMethodBySpec(receiver.VTable, method.Name, method.Spec)
}

func findMethodBySpec(table []*Method, name, spec string) *Method {
	for _, m := range table {
		if m != nil && m.Name == name && m.Spec == spec {
			return m
		}
	}
	return nil
}

// VirtualCount returns the vtable length.
func (c *Class) VirtualCount() int {
	return len(c.VTable)
}

// LocalVirtuals returns the vtable slots whose method c declares itself.
func (c *Class) LocalVirtuals() map[int]*Method {
	result := make(map[int]*Method)
	for i, m := range c.VTable {
		if m != nil && m.Class == c {
			result[i] = m
		}
	}
	return result
}
