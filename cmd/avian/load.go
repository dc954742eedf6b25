package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/avian/vm"
)

var (
	loadClasspath string
	loadInit      bool
)

var loadCmd = &cobra.Command{
	Use:   "load [-cp path] <class>...",
	Short: "Resolve classes through the application loader",
	Long: `Resolve each named class through the application loader, linking its
supertypes, and print the resulting layout. Names may use dots or
slashes. With --init the class initializers are run as well.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadClasspath, "cp", "", "application class path")
	loadCmd.Flags().BoolVar(&loadInit, "init", false, "initialize each class after loading")
	rootCmd.AddCommand(loadCmd)
}

func classpathOptions(cp string) []string {
	if cp == "" {
		return nil
	}
	return []string{"-D" + vm.PropClasspath + "=" + cp}
}

func runLoad(cmd *cobra.Command, args []string) error {
	m, t, err := boot(vm.Collaborators{}, classpathOptions(loadClasspath)...)
	if err != nil {
		return err
	}
	defer shutdown(m)

	out := cmd.OutOrStdout()
	for i, name := range args {
		c, err := loadClass(m, t, name)
		if err != nil {
			return report(m, t, err)
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		printLayout(out, c)
	}
	return nil
}

func loadClass(m *vm.Machine, t *vm.Thread, name string) (*vm.Class, error) {
	name = strings.ReplaceAll(name, ".", "/")
	c, err := m.ResolveClass(t, m.AppLoader, name, true, vm.NoClassDefFoundErrorType)
	if err != nil {
		return nil, err
	}
	if loadInit {
		if err := m.InitClass(t, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
