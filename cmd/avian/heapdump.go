package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/avian/vm"
)

var (
	dumpOut       string
	dumpClasspath string
)

var heapdumpCmd = &cobra.Command{
	Use:   "heapdump [-o file] <class>...",
	Short: "Load classes and write a heap dump",
	Long: `Load and initialize the named classes, then stop the world and write
the live object graph in the heap dump format.`,
	RunE: runHeapdump,
}

func init() {
	heapdumpCmd.Flags().StringVarP(&dumpOut, "output", "o", "avian.heap", "dump file")
	heapdumpCmd.Flags().StringVar(&dumpClasspath, "cp", "", "application class path")
	rootCmd.AddCommand(heapdumpCmd)
}

func runHeapdump(cmd *cobra.Command, args []string) error {
	m, t, err := boot(vm.Collaborators{}, classpathOptions(dumpClasspath)...)
	if err != nil {
		return err
	}
	defer shutdown(m)

	loadInit = true
	for _, name := range args {
		if _, err := loadClass(m, t, name); err != nil {
			return report(m, t, err)
		}
	}

	f, err := os.Create(dumpOut)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := m.WriteHeapDump(t, w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dumpOut)
	return nil
}
