package catalog

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/juju/errors"
	"go.bug.st/serial/enumerator"
)

const (
	StrategyEnumerator = "enumerator"
	StrategyGlob       = "glob"
	StrategyStatic     = "static"
)

var (
	LinuxPatterns  = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	DarwinPatterns = []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*", "/dev/cu.wchusbserial*"}
)

// DefaultStrategy picks enumeration for goos:
// Linux and macOS glob device files, others (Windows COM registry) use enumerator.
func DefaultStrategy(goos string) Strategy {
	switch goos {
	case "linux":
		return &GlobStrategy{Patterns: LinuxPatterns, Label: linuxSysfsLabel}
	case "darwin":
		return &GlobStrategy{Patterns: DarwinPatterns}
	}
	return NewEnumeratorStrategy()
}

// NewStrategy resolves config name, empty name means DefaultStrategy(runtime.GOOS).
// Explicit ports always win.
func NewStrategy(name string, globs []string, ports []string) (Strategy, error) {
	if len(ports) != 0 {
		return StaticStrategy(ports), nil
	}
	switch name {
	case "":
		s := DefaultStrategy(runtime.GOOS)
		if g, ok := s.(*GlobStrategy); ok && len(globs) != 0 {
			g.Patterns = globs
		}
		return s, nil
	case StrategyEnumerator:
		return NewEnumeratorStrategy(), nil
	case StrategyGlob:
		if len(globs) == 0 {
			if runtime.GOOS == "darwin" {
				globs = DarwinPatterns
			} else {
				globs = LinuxPatterns
			}
		}
		g := &GlobStrategy{Patterns: globs}
		if runtime.GOOS == "linux" {
			g.Label = linuxSysfsLabel
		}
		return g, nil
	}
	return nil, errors.NotValidf("catalog strategy=%s", name)
}

// EnumeratorStrategy asks OS device registry via go.bug.st/serial/enumerator.
type EnumeratorStrategy struct {
	list func() ([]*enumerator.PortDetails, error)
}

func NewEnumeratorStrategy() *EnumeratorStrategy {
	return &EnumeratorStrategy{list: enumerator.GetDetailedPortsList}
}

func (*EnumeratorStrategy) Name() string { return StrategyEnumerator }

func (self *EnumeratorStrategy) List() ([]Candidate, error) {
	ports, err := self.list()
	if err != nil {
		return nil, errors.Annotate(err, "enumerator")
	}
	result := make([]Candidate, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		result = append(result, Candidate{Path: p.Name, Label: detailsLabel(p)})
	}
	return result, nil
}

func detailsLabel(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return ""
	}
	parts := make([]string, 0, 3)
	if p.Product != "" {
		parts = append(parts, p.Product)
	}
	if p.VID != "" || p.PID != "" {
		parts = append(parts, "USB "+strings.ToUpper(p.VID)+":"+strings.ToUpper(p.PID))
	} else {
		parts = append(parts, "USB")
	}
	if p.SerialNumber != "" {
		parts = append(parts, "sn="+p.SerialNumber)
	}
	return strings.Join(parts, " ")
}

// GlobStrategy lists device files matching patterns.
type GlobStrategy struct {
	Patterns []string
	Label    func(path string) string
	glob     func(pattern string) ([]string, error)
}

func (*GlobStrategy) Name() string { return StrategyGlob }

func (self *GlobStrategy) List() ([]Candidate, error) {
	glob := self.glob
	if glob == nil {
		glob = filepath.Glob
	}
	var result []Candidate
	for _, pattern := range self.Patterns {
		matches, err := glob(pattern)
		if err != nil {
			return nil, errors.Annotatef(err, "glob pattern=%s", pattern)
		}
		for _, m := range matches {
			c := Candidate{Path: m}
			if self.Label != nil {
				c.Label = self.Label(m)
			}
			result = append(result, c)
		}
	}
	return result, nil
}

// StaticStrategy is operator provided list of paths.
type StaticStrategy []string

func (StaticStrategy) Name() string { return StrategyStatic }

func (self StaticStrategy) List() ([]Candidate, error) {
	result := make([]Candidate, 0, len(self))
	for _, p := range self {
		result = append(result, Candidate{Path: p, Label: "configured"})
	}
	return result, nil
}

// best effort: /sys/class/tty/ttyACM0/device/../{manufacturer,product}
// string concat on purpose, filepath.Join would clean away "device/.."
func linuxSysfsLabel(path string) string {
	base := "/sys/class/tty/" + filepath.Base(path) + "/device/../"
	var parts []string
	for _, name := range []string{"manufacturer", "product"} {
		if b, err := os.ReadFile(base + name); err == nil {
			if s := strings.TrimSpace(string(b)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}
