// Package config handles avian.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "avian.toml"

var log = commonlog.GetLogger("avian.config")

// Config represents an avian.toml file.
type Config struct {
	Heap       Heap              `toml:"heap"`
	Classpath  Classpath         `toml:"classpath"`
	Properties map[string]string `toml:"properties"`
	Log        Log               `toml:"log"`
	Debug      Debug             `toml:"debug"`
	Image      Image             `toml:"image"`

	// Dir is the directory containing the avian.toml file (set at load time).
	Dir string `toml:"-"`
}

// Heap sizes the managed heap. Limit accepts the -Xmx syntax ("64m").
type Heap struct {
	Limit           string `toml:"limit"`
	CollectInterval string `toml:"collect-interval"`
}

// Classpath configures where classes come from. Relative entries are
// resolved against the configuration directory.
type Classpath struct {
	Boot    []string `toml:"boot"`
	Prepend []string `toml:"prepend"`
	Append  []string `toml:"append"`
	App     []string `toml:"app"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Debug toggles runtime diagnostics.
type Debug struct {
	DeadlockDetection bool `toml:"deadlock-detection"`
	VerboseClasses    bool `toml:"verbose-classes"`
}

// Image names a prebuilt class image used as the boot class path.
type Image struct {
	Path string `toml:"path"`
}

// Load parses an avian.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(c.Classpath.App) == 0 {
		c.Classpath.App = []string{"."}
	}

	log.Debugf("loaded %s", path)
	return &c, nil
}

// FindAndLoad walks up from startDir to find an avian.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) paths(entries []string) string {
	abs := make([]string, len(entries))
	for i, e := range entries {
		if filepath.IsAbs(e) {
			abs[i] = e
		} else {
			abs[i] = filepath.Join(c.Dir, e)
		}
	}
	return strings.Join(abs, string(os.PathListSeparator))
}

// Options renders the configuration as machine option strings. Command
// line options appended after these take precedence.
func (c *Config) Options() []string {
	var opts []string
	if c.Heap.Limit != "" {
		opts = append(opts, "-Xmx"+c.Heap.Limit)
	}
	switch {
	case c.Image.Path != "":
		opts = append(opts, "-Xbootclasspath:"+c.paths([]string{c.Image.Path}))
	case len(c.Classpath.Boot) > 0:
		opts = append(opts, "-Xbootclasspath:"+c.paths(c.Classpath.Boot))
	}
	if len(c.Classpath.Prepend) > 0 {
		opts = append(opts, "-Xbootclasspath/p:"+c.paths(c.Classpath.Prepend))
	}
	if len(c.Classpath.Append) > 0 {
		opts = append(opts, "-Xbootclasspath/a:"+c.paths(c.Classpath.Append))
	}
	if len(c.Classpath.App) > 0 {
		opts = append(opts, "-Djava.class.path="+c.paths(c.Classpath.App))
	}
	if c.Heap.CollectInterval != "" {
		opts = append(opts, "-Davian.gc.interval="+c.Heap.CollectInterval)
	}
	if c.Debug.DeadlockDetection {
		opts = append(opts, "-Davian.deadlock.detection=true")
	}
	if c.Debug.VerboseClasses {
		opts = append(opts, "-verbose:class")
	}

	names := make([]string, 0, len(c.Properties))
	for name := range c.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, "-D"+name+"="+c.Properties[name])
	}
	return opts
}

// ConfigureLog applies the [log] section to commonlog. A negative
// verbosity silences logging; a path sends it to a file.
func (c *Config) ConfigureLog() {
	var path *string
	if c.Log.Path != "" {
		p := c.Log.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.Dir, p)
		}
		path = &p
	}
	commonlog.Configure(c.Log.Verbosity, path)
	log.Debugf("log verbosity %s", strconv.Itoa(c.Log.Verbosity))
}
