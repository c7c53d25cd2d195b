// Package catalog lists serial device candidates for probing.
//
// Enumeration strategy is chosen once at startup, see DefaultStrategy.
// Device description hints only reorder candidates, probe decides identity.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/sensorgate/hardware/uart"
	"github.com/temoto/sensorgate/log2"
)

// Candidate is PortCandidate: device path and human description.
type Candidate struct {
	Path  string
	Label string
}

func (c Candidate) String() string {
	if c.Label == "" {
		return c.Path
	}
	return fmt.Sprintf("%s (%s)", c.Path, c.Label)
}

// Usual USB-serial chips on microcontroller boards, most specific first.
var DefaultHints = []string{"arduino", "ch340", "cp210", "ftdi", "usb"}

type Strategy interface {
	Name() string
	List() ([]Candidate, error)
}

type ExistenceChecker interface {
	Exists(path string) bool
}

type ExistenceFunc func(path string) bool

func (f ExistenceFunc) Exists(path string) bool { return f(path) }

type Catalog struct {
	strategy Strategy
	checker  ExistenceChecker
	hints    []string
	log      *log2.Log
}

// New with nil hints uses DefaultHints, nil checker accepts all.
func New(strategy Strategy, checker ExistenceChecker, hints []string, log *log2.Log) *Catalog {
	if hints == nil {
		hints = DefaultHints
	}
	lower := make([]string, 0, len(hints))
	for _, h := range hints {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			lower = append(lower, h)
		}
	}
	return &Catalog{
		strategy: strategy,
		checker:  checker,
		hints:    lower,
		log:      log.Prefixed("catalog: "),
	}
}

func (self *Catalog) StrategyName() string { return self.strategy.Name() }

// ListCandidates returns present devices, hinted first, then by path.
func (self *Catalog) ListCandidates() ([]Candidate, error) {
	all, err := self.strategy.List()
	if err != nil {
		return nil, errors.Annotatef(err, "catalog strategy=%s", self.strategy.Name())
	}
	seen := make(map[string]struct{}, len(all))
	result := make([]Candidate, 0, len(all))
	for _, c := range all {
		if c.Path == "" {
			continue
		}
		if _, ok := seen[c.Path]; ok {
			continue
		}
		seen[c.Path] = struct{}{}
		if self.checker != nil && !self.checker.Exists(c.Path) {
			self.log.Debugf("skip phantom %s", c)
			continue
		}
		result = append(result, c)
	}
	sort.SliceStable(result, func(i, j int) bool {
		ri, rj := self.rank(result[i]), self.rank(result[j])
		if ri != rj {
			return ri < rj
		}
		return result[i].Path < result[j].Path
	})
	self.log.Debugf("strategy=%s found=%d candidates=%v", self.strategy.Name(), len(all), result)
	return result, nil
}

// rank is index of first matching hint, len(hints) when none match.
func (self *Catalog) rank(c Candidate) int {
	s := strings.ToLower(c.Label + " " + c.Path)
	for i, h := range self.hints {
		if strings.Contains(s, h) {
			return i
		}
	}
	return len(self.hints)
}

// Checker is default ExistenceChecker.
// Filesystem paths must exist and not be directories.
// Other names (COM11) are checked with quick open and close.
type Checker struct {
	Opener uart.Opener
	Baud   int
}

func (self Checker) Exists(path string) bool {
	if strings.HasPrefix(path, "/") {
		fi, err := os.Stat(path)
		return err == nil && !fi.IsDir()
	}
	if self.Opener == nil {
		return true
	}
	p, err := self.Opener.Open(path, self.Baud)
	if err != nil {
		return false
	}
	_ = p.Close()
	return true
}
