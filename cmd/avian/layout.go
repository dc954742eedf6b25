package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/chazu/avian/vm"
)

// accessNames lists class and member flag names in declaration order.
var accessNames = []struct {
	flag uint16
	name string
}{
	{vm.AccPublic, "public"},
	{vm.AccPrivate, "private"},
	{vm.AccProtected, "protected"},
	{vm.AccStatic, "static"},
	{vm.AccFinal, "final"},
	{vm.AccVolatile, "volatile"},
	{vm.AccTransient, "transient"},
	{vm.AccNative, "native"},
	{vm.AccInterface, "interface"},
	{vm.AccAbstract, "abstract"},
}

func accessString(flags uint16, member bool) string {
	var names []string
	for _, a := range accessNames {
		// volatile and transient bits are member-only.
		if !member && (a.flag == vm.AccVolatile || a.flag == vm.AccTransient) {
			continue
		}
		if flags&a.flag != 0 {
			names = append(names, a.name)
		}
	}
	return strings.Join(names, " ")
}

// printClassFile writes the declared shape of a parsed class file.
func printClassFile(w io.Writer, cf *vm.ClassFile) {
	fmt.Fprintf(w, "class %s (version %d.%d)\n", cf.Name, cf.Major, cf.Minor)
	fmt.Fprintf(w, "  flags:      %#04x %s\n", cf.AccessFlags, accessString(cf.AccessFlags, false))
	if cf.SuperName != "" {
		fmt.Fprintf(w, "  super:      %s\n", cf.SuperName)
	}
	if len(cf.Interfaces) > 0 {
		fmt.Fprintf(w, "  interfaces: %s\n", strings.Join(cf.Interfaces, ", "))
	}
	fmt.Fprintf(w, "  pool:       %d entries\n", cf.Pool.Len())
	fmt.Fprintf(w, "  fields:     %d\n", len(cf.Fields))
	fmt.Fprintf(w, "  methods:    %d\n", len(cf.Methods))
}

// printLayout writes the linked layout of c: instance size, field
// offsets and the virtual table.
func printLayout(w io.Writer, c *vm.Class) {
	fmt.Fprintf(w, "%s\n", c.JavaName())
	if c.Super != nil {
		fmt.Fprintf(w, "  extends %s\n", c.Super.JavaName())
	}
	fmt.Fprintf(w, "  loader %s, source %s\n", c.Loader, c.Source)
	fmt.Fprintf(w, "  instance size %d bytes\n", c.FixedSize)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(c.Fields) > 0 {
		fmt.Fprintln(tw, "\n  FIELD\tTYPE\tWHERE\tFLAGS")
		for _, f := range c.Fields {
			where := fmt.Sprintf("+%d", f.Offset)
			if f.IsStatic() {
				where = fmt.Sprintf("static[%d]", f.Offset)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Name, f.Spec, where, accessString(f.AccessFlags, true))
		}
	}
	if len(c.VTable) > 0 {
		fmt.Fprintln(tw, "\n  SLOT\tMETHOD\tDECLARED BY\t")
		for i, m := range c.VTable {
			fmt.Fprintf(tw, "  %d\t%s%s\t%s\t\n", i, m.Name, m.Spec, m.Class.JavaName())
		}
	}
	tw.Flush()
}
