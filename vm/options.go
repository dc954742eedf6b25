package vm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// VM options
// ---------------------------------------------------------------------------

// System properties the runtime reads itself.
const (
	PropBootstrap   = "avian.bootstrap"
	PropCrashDir    = "avian.crash.dir"
	PropEmbedPrefix = "avian.embed.prefix"
	PropClasspath   = "java.class.path"
	PropJavaHome    = "java.home"
	PropErrorLog    = "avian.error.log"

	PropDeadlockDetection = "avian.deadlock.detection"
	PropAtomic64          = "avian.atomic64"
	PropCollectInterval   = "avian.gc.interval"
)

// Options is the parsed form of the option strings given to
// CreateJavaVM.
type Options struct {
	HeapLimit int

	// BootClasspath replaces the default boot path when set.
	BootClasspath        string
	BootClasspathPrepend string
	BootClasspathAppend  string
	Classpath            string

	BootLibrary string
	CrashDir    string
	EmbedPrefix string
	JavaHome    string
	ErrorLog    string

	// Properties holds every -D option as name=value, in order.
	Properties []string
	// Arguments holds every option string verbatim, in order.
	Arguments []string

	VerboseClasses    bool
	DeadlockDetection bool
	// Atomic64 says the platform has native 64-bit atomics; without them
	// volatile long and double fields are guarded by a monitor.
	Atomic64 bool
	// CollectInterval enables the periodic collector when positive.
	CollectInterval time.Duration
}

// DefaultOptions returns the options CreateJavaVM starts from.
func DefaultOptions() *Options {
	return &Options{
		HeapLimit: DefaultHeapSizeInBytes,
		Classpath: ".",
		Atomic64:  true,
	}
}

// ParseOptions parses JNI-style option strings in order. Unrecognized
// -X options are ignored; every string is kept in Arguments.
func ParseOptions(args []string) (*Options, error) {
	o := DefaultOptions()
	for _, arg := range args {
		o.Arguments = append(o.Arguments, arg)
		switch {
		case strings.HasPrefix(arg, "-X"):
			if err := o.parseX(arg[2:]); err != nil {
				return nil, err
			}
		case strings.HasPrefix(arg, "-D"):
			if err := o.parseD(arg[2:]); err != nil {
				return nil, err
			}
		case arg == "-verbose:class":
			o.VerboseClasses = true
		}
	}
	return o, nil
}

func (o *Options) parseX(p string) error {
	switch {
	case strings.HasPrefix(p, "mx"):
		n, err := ParseSize(p[2:])
		if err != nil {
			return err
		}
		if n > 0 {
			o.HeapLimit = n
		}
	case strings.HasPrefix(p, "bootclasspath/p:"):
		o.BootClasspathPrepend = p[len("bootclasspath/p:"):]
	case strings.HasPrefix(p, "bootclasspath/a:"):
		o.BootClasspathAppend = p[len("bootclasspath/a:"):]
	case strings.HasPrefix(p, "bootclasspath:"):
		o.BootClasspath = p[len("bootclasspath:"):]
	}
	return nil
}

func (o *Options) parseD(p string) error {
	name, value, _ := strings.Cut(p, "=")
	o.Properties = append(o.Properties, p)
	switch name {
	case PropBootstrap:
		o.BootLibrary = value
	case PropCrashDir:
		o.CrashDir = value
	case PropClasspath:
		o.Classpath = value
	case PropJavaHome:
		o.JavaHome = value
	case PropEmbedPrefix:
		o.EmbedPrefix = value
	case PropErrorLog:
		o.ErrorLog = value
	case PropDeadlockDetection:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidOption, name, value)
		}
		o.DeadlockDetection = b
	case PropAtomic64:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidOption, name, value)
		}
		o.Atomic64 = b
	case PropCollectInterval:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidOption, name, value)
		}
		o.CollectInterval = d
	}
	return nil
}

// ParseSize parses a byte count with an optional k or m suffix. An empty
// string is zero.
func ParseSize(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	scale := 1
	switch s[len(s)-1] {
	case 'k', 'K':
		scale = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		scale = 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad size %q", ErrInvalidOption, s)
	}
	return n * scale, nil
}

// BootPath joins the prepended, base and appended boot class paths,
// skipping empty parts.
func (o *Options) BootPath() string {
	var parts []string
	for _, p := range []string{o.BootClasspathPrepend, o.BootClasspath, o.BootClasspathAppend} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// Property returns the value of the last -D option naming name.
func (o *Options) Property(name string) (string, bool) {
	for i := len(o.Properties) - 1; i >= 0; i-- {
		n, v, _ := strings.Cut(o.Properties[i], "=")
		if n == name {
			return v, true
		}
	}
	return "", false
}
