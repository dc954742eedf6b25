package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/avian/finder"
	"github.com/chazu/avian/vm"
)

var noLink bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.class>",
	Short: "Parse a class file and print its linked layout",
	Long: `Parse a class file and print its header. Unless --no-link is given the
class is then defined in a fresh machine, with the configured class path
available for its supertypes, and its field offsets and virtual table
are printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&noLink, "no-link", false, "only parse the class file")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cf, err := vm.DecodeClassFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	out := cmd.OutOrStdout()
	printClassFile(out, cf)
	if noLink {
		return nil
	}

	// The file shadows the configured class path.
	app := &finder.Multi{Finders: []finder.Finder{finder.Memory{cf.Name + ".class": data}}}
	if cp := appClasspath(); cp != "" {
		rest, err := finder.Open(cp)
		if err != nil {
			return err
		}
		app.Finders = append(app.Finders, rest)
	}

	m, t, err := boot(vm.Collaborators{AppFinder: app})
	if err != nil {
		app.Close()
		return err
	}
	defer shutdown(m)

	c, err := m.ResolveClass(t, m.AppLoader, cf.Name, true, vm.NoClassDefFoundErrorType)
	if err != nil {
		return report(m, t, err)
	}
	fmt.Fprintln(out)
	printLayout(out, c)
	return nil
}

// appClasspath is the application class path the options would give.
func appClasspath() string {
	opts, err := vm.ParseOptions(machineOptions())
	if err != nil {
		return ""
	}
	return opts.Classpath
}
