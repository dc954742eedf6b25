// avian loads, links and inspects Java classes on the Avian runtime core.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/avian/config"
	"github.com/chazu/avian/finder"
	"github.com/chazu/avian/vm"
)

var log = commonlog.GetLogger("avian")

var (
	// Global flags
	verbosity int
	configDir string

	// vmOptions holds the -X, -D and -verbose: arguments, which are
	// forwarded to the machine verbatim.
	vmOptions []string
	cfg       *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "avian",
	Short: "Load, link and inspect Java classes",
	Long: `avian drives the Avian runtime core: it parses class files, links them
through the boot and application loaders and reports their layout.

Options of the form -X..., -D... and -verbose:... are passed to the
machine unchanged. Settings are read from the nearest avian.toml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.FindAndLoad(configDir); err != nil {
			return err
		}
		if cfg != nil {
			cfg.ConfigureLog()
		}
		if verbosity > 0 || cfg == nil {
			commonlog.Configure(verbosity, nil)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity")
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "C", ".", "directory to search upward for avian.toml")
}

func main() {
	args, opts := splitVMOptions(os.Args[1:])
	vmOptions = opts
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// splitVMOptions separates machine options from command arguments.
func splitVMOptions(args []string) (rest, opts []string) {
	for _, a := range args {
		if strings.HasPrefix(a, "-X") || strings.HasPrefix(a, "-D") || strings.HasPrefix(a, "-verbose:") {
			opts = append(opts, a)
		} else {
			rest = append(rest, a)
		}
	}
	return rest, opts
}

// machineOptions orders options so later sources win: avian.toml, then
// the command's own, then the command line.
func machineOptions(extra ...string) []string {
	var opts []string
	if cfg != nil {
		opts = append(opts, cfg.Options()...)
	}
	opts = append(opts, extra...)
	return append(opts, vmOptions...)
}

// boot creates a machine whose finders come from the configured class
// paths unless c supplies them.
func boot(c vm.Collaborators, extra ...string) (*vm.Machine, *vm.Thread, error) {
	if c.OpenFinder == nil {
		c.OpenFinder = finder.OpenFinder
	}
	m, t, err := vm.CreateJavaVM(machineOptions(extra...), c)
	if err != nil {
		return nil, nil, fmt.Errorf("creating machine: %w", err)
	}
	return m, t, nil
}

func shutdown(m *vm.Machine) {
	if rc := m.JavaVM().DestroyJavaVM(); rc != vm.JNIOk {
		log.Warningf("DestroyJavaVM returned %d", rc)
	}
}

// report prints a pending managed exception the way an uncaught one is
// printed, and returns err for cobra.
func report(m *vm.Machine, t *vm.Thread, err error) error {
	if e, ok := vm.AsThrowable(err); ok {
		m.PrintTrace(t, os.Stderr, e)
	}
	return err
}
