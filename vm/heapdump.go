package vm

import (
	"bufio"
	"encoding/binary"
	"io"
)

// ---------------------------------------------------------------------------
// Heap dump
// ---------------------------------------------------------------------------

// Heap dump tags.
const (
	DumpRoot byte = iota
	DumpSize
	DumpClassName
	DumpPush
	DumpPop
)

type dumpVisitor struct {
	w       *bufio.Writer
	client  heapClient
	ids     map[*Object]uint32
	classes map[*Class]bool
	err     error
}

func (d *dumpVisitor) tag(b byte) {
	if d.err == nil {
		d.err = d.w.WriteByte(b)
	}
}

func (d *dumpVisitor) u32(v uint32) {
	if d.err == nil {
		d.err = binary.Write(d.w, binary.BigEndian, v)
	}
}

// Visit emits one root and everything reachable from it not yet seen.
func (d *dumpVisitor) Visit(o *Object) {
	if o == nil {
		return
	}
	d.tag(DumpRoot)
	d.object(o)
}

// object writes o depth first with an explicit stack of pending
// children, so deep graphs do not grow the goroutine stack.
func (d *dumpVisitor) object(root *Object) {
	type level struct {
		children []*Object
		next     int
	}
	var stack []*level

	emit := func(o *Object) {
		if id, ok := d.ids[o]; ok {
			d.u32(id)
			return
		}
		id := uint32(len(d.ids) + 1)
		d.ids[o] = id
		d.u32(id)
		d.tag(DumpSize)
		d.u32(uint32(ceilWords(o.SizeInBytes())))
		if c := o.Class(); c != nil && !d.classes[c] {
			d.classes[c] = true
			d.tag(DumpClassName)
			d.u32(uint32(len(c.Name)))
			if d.err == nil {
				_, d.err = d.w.WriteString(c.Name)
			}
		}
		var children []*Object
		d.client.Walk(o, func(r *Object) {
			if r != nil {
				children = append(children, r)
			}
		})
		if len(children) > 0 {
			d.tag(DumpPush)
			stack = append(stack, &level{children: children})
		}
	}

	emit(root)
	for len(stack) > 0 && d.err == nil {
		top := stack[len(stack)-1]
		if top.next == len(top.children) {
			d.tag(DumpPop)
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.children[top.next]
		top.next++
		emit(child)
	}
}

// WriteHeapDump writes the live object graph to w. Object ids are 32-bit
// big-endian integers assigned in visitation order; an object seen before
// is written as its id alone. The world is stopped for the duration.
func (m *Machine) WriteHeapDump(t *Thread, w io.Writer) error {
	restore := t.EnterScoped(ExclusiveState)
	defer restore()

	d := &dumpVisitor{
		w:       bufio.NewWriter(w),
		client:  heapClient{m},
		ids:     make(map[*Object]uint32),
		classes: make(map[*Class]bool),
	}
	d.client.VisitRoots(d)
	if d.err != nil {
		return d.err
	}
	log.Infof("heap dump: %d objects, %d classes", len(d.ids), len(d.classes))
	return d.w.Flush()
}
