// Package config reads sensorgate configuration.
// HCL by default with `include "name" { optional = true }` blocks,
// YAML for .yaml/.yml files. Later sources overwrite earlier values.
package config

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/sensorgate/hardware/catalog"
	"github.com/temoto/sensorgate/hardware/probe"
	"github.com/temoto/sensorgate/hardware/uart"
	"github.com/temoto/sensorgate/helpers"
	"github.com/temoto/sensorgate/internal/bridge"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/internal/sink/firebase"
	"github.com/temoto/sensorgate/internal/sink/mqtt"
	"github.com/temoto/sensorgate/internal/supervisor"
	"github.com/temoto/sensorgate/log2"
	"gopkg.in/yaml.v3"
)

const (
	SinkFirebase = "firebase"
	SinkMQTT     = "mqtt"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include" yaml:"-"`

	Serial  SerialConfig `hcl:"serial" yaml:"serial"`
	Sink    SinkConfig   `hcl:"sink" yaml:"sink"`
	Log     LogConfig    `hcl:"log" yaml:"log"`
	Metrics struct {
		Listen string `hcl:"listen" yaml:"listen"`
	} `hcl:"metrics" yaml:"metrics"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type SerialConfig struct {
	Driver           string   `hcl:"driver" yaml:"driver"`
	Baud             int      `hcl:"baud" yaml:"baud"`
	Ports            []string `hcl:"ports" yaml:"ports"`
	Strategy         string   `hcl:"strategy" yaml:"strategy"`
	Globs            []string `hcl:"globs" yaml:"globs"`
	Hints            []string `hcl:"hints" yaml:"hints"`
	Charset          string   `hcl:"charset" yaml:"charset"`
	PollIntervalMs   int      `hcl:"poll_interval_ms" yaml:"poll_interval_ms"`
	SilenceTicks     int      `hcl:"silence_ticks" yaml:"silence_ticks"`
	ProbeTimeoutSec  int      `hcl:"probe_timeout_sec" yaml:"probe_timeout_sec"`
	SettleMs         int      `hcl:"settle_ms" yaml:"settle_ms"`
	ReconnectDelayMs int      `hcl:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	ReconnectMaxMs   int      `hcl:"reconnect_max_ms" yaml:"reconnect_max_ms"`
	StatusLED        struct {
		Enable    bool   `hcl:"enable" yaml:"enable"`
		Chip      string `hcl:"chip" yaml:"chip"`
		Line      int    `hcl:"line" yaml:"line"`
		ActiveLow bool   `hcl:"active_low" yaml:"active_low"`
	} `hcl:"status_led" yaml:"status_led"`
}

type SinkConfig struct { //nolint:maligned
	Kind             string `hcl:"kind" yaml:"kind"`
	Sensor           string `hcl:"sensor" yaml:"sensor"`
	TimeoutSec       int    `hcl:"timeout_sec" yaml:"timeout_sec"`
	MaxInflight      int    `hcl:"max_inflight" yaml:"max_inflight"`
	FailureThreshold int    `hcl:"failure_threshold" yaml:"failure_threshold"`
	Firebase         struct {
		URL    string `hcl:"url" yaml:"url"`
		Secret string `hcl:"secret" yaml:"secret"`
		Path   string `hcl:"path" yaml:"path"`
	} `hcl:"firebase" yaml:"firebase"`
	MQTT struct {
		Broker       string `hcl:"broker" yaml:"broker"`
		ClientID     string `hcl:"client_id" yaml:"client_id"`
		Username     string `hcl:"username" yaml:"username"`
		Password     string `hcl:"password" yaml:"password"`
		Topic        string `hcl:"topic" yaml:"topic"`
		Retained     bool   `hcl:"retained" yaml:"retained"`
		KeepaliveSec int    `hcl:"keepalive_sec" yaml:"keepalive_sec"`
	} `hcl:"mqtt" yaml:"mqtt"`
}

type LogConfig struct {
	Debug bool `hcl:"debug" yaml:"debug"`
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if isYAML(norm) {
		if err = yaml.Unmarshal(bs, c); err != nil {
			*errs = append(*errs, errors.Annotatef(err, "config yaml source=%s", source.Name))
		}
		return
	}
	if err = hcl.Unmarshal(bs, c); err != nil {
		// content may contain secrets, not included
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read merges names in order and applies defaults. Does not Validate.
func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error config.Read() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names = append([]string{name}, names[1:]...)
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	c.applyDefaults()
	return c, helpers.FoldErrors(errs)
}

func MustRead(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := Read(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) applyDefaults() {
	s := &c.Serial
	if s.Driver == "" {
		s.Driver = uart.DriverBugst
	}
	if s.Baud == 0 {
		s.Baud = uart.DefaultBaud
	}
	if s.Hints == nil {
		s.Hints = catalog.DefaultHints
	}
	if s.PollIntervalMs == 0 {
		s.PollIntervalMs = int(supervisor.DefaultPollInterval / time.Millisecond)
	}
	if s.SilenceTicks == 0 {
		s.SilenceTicks = supervisor.DefaultSilenceTicks
	}
	if s.ProbeTimeoutSec == 0 {
		s.ProbeTimeoutSec = int(probe.DefaultWindow / time.Second)
	}
	if s.SettleMs == 0 {
		s.SettleMs = int(probe.DefaultSettle / time.Millisecond)
	}
	if s.ReconnectDelayMs == 0 {
		s.ReconnectDelayMs = int(supervisor.DefaultReconnectDelay / time.Millisecond)
	}
	if s.ReconnectMaxMs == 0 {
		s.ReconnectMaxMs = int(supervisor.DefaultReconnectMax / time.Millisecond)
	}
	if s.StatusLED.Chip == "" {
		s.StatusLED.Chip = "/dev/gpiochip0"
	}

	k := &c.Sink
	if k.Kind == "" {
		k.Kind = SinkFirebase
	}
	if k.Sensor == "" {
		k.Sensor = sink.DefaultSensor
	}
	if k.TimeoutSec == 0 {
		k.TimeoutSec = int(firebase.DefaultTimeout / time.Second)
	}
	if k.MaxInflight == 0 {
		k.MaxInflight = bridge.DefaultMaxInflight
	}
	if k.FailureThreshold == 0 {
		k.FailureThreshold = bridge.DefaultFailureThreshold
	}
	if k.Firebase.Path == "" {
		k.Firebase.Path = firebase.DefaultPath
	}
	if k.MQTT.ClientID == "" {
		k.MQTT.ClientID = "sensorgate"
	}
	if k.MQTT.KeepaliveSec == 0 {
		k.MQTT.KeepaliveSec = int(mqtt.DefaultKeepalive / time.Second)
	}
}

var (
	placeholderURLs    = []string{"seu-projeto", "your-project", "example"}
	placeholderSecrets = []string{"SUA_CHAVE_SECRETA_AQUI", "sua_chave_secreta", "YOUR_SECRET", "changeme"}
)

// Validate returns all problems found, one per line.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...interface{}) { errs = append(errs, errors.NotValidf(format, args...)) }

	switch strings.ToLower(c.Serial.Driver) {
	case uart.DriverBugst, uart.DriverFile:
	default:
		bad("serial.driver=%s", c.Serial.Driver)
	}
	switch c.Serial.Strategy {
	case "", catalog.StrategyEnumerator, catalog.StrategyGlob:
	default:
		bad("serial.strategy=%s", c.Serial.Strategy)
	}
	for name, v := range map[string]int{
		"serial.baud":               c.Serial.Baud,
		"serial.poll_interval_ms":   c.Serial.PollIntervalMs,
		"serial.silence_ticks":      c.Serial.SilenceTicks,
		"serial.probe_timeout_sec":  c.Serial.ProbeTimeoutSec,
		"serial.settle_ms":          c.Serial.SettleMs,
		"serial.reconnect_delay_ms": c.Serial.ReconnectDelayMs,
		"serial.reconnect_max_ms":   c.Serial.ReconnectMaxMs,
		"serial.status_led.line":    c.Serial.StatusLED.Line,
		"sink.timeout_sec":          c.Sink.TimeoutSec,
		"sink.max_inflight":         c.Sink.MaxInflight,
		"sink.failure_threshold":    c.Sink.FailureThreshold,
		"sink.mqtt.keepalive_sec":   c.Sink.MQTT.KeepaliveSec,
	} {
		if v < 0 {
			bad("%s=%d must not be negative", name, v)
		}
	}

	switch c.Sink.Kind {
	case SinkFirebase:
		fb := c.Sink.Firebase
		if fb.URL == "" {
			bad("sink.firebase.url empty")
		} else if containsAny(strings.ToLower(fb.URL), placeholderURLs) {
			bad("sink.firebase.url=%s looks like placeholder, copy database URL from Firebase console", fb.URL)
		}
		if fb.Secret == "" {
			bad("sink.firebase.secret empty")
		} else if containsAny(fb.Secret, placeholderSecrets) {
			bad("sink.firebase.secret looks like placeholder, generate database secret in project settings, service accounts")
		}
	case SinkMQTT:
		if c.Sink.MQTT.Broker == "" {
			bad("sink.mqtt.broker empty")
		}
		if c.Sink.MQTT.Topic == "" {
			bad("sink.mqtt.topic empty")
		}
	default:
		bad("sink.kind=%s (firebase, mqtt)", c.Sink.Kind)
	}
	// map iteration order is random
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return helpers.FoldErrors(errs)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (c *Config) ProbeConfig() probe.Config {
	return probe.Config{
		Baud:        c.Serial.Baud,
		Charset:     c.Serial.Charset,
		Settle:      time.Duration(c.Serial.SettleMs) * time.Millisecond,
		ReadTimeout: helpers.IntMillisecondDefault(c.Serial.PollIntervalMs, probe.DefaultReadTimeout),
		Window:      helpers.IntSecondDefault(c.Serial.ProbeTimeoutSec, probe.DefaultWindow),
	}
}

func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Baud:           c.Serial.Baud,
		Charset:        c.Serial.Charset,
		PollInterval:   helpers.IntMillisecondDefault(c.Serial.PollIntervalMs, supervisor.DefaultPollInterval),
		SilenceTicks:   c.Serial.SilenceTicks,
		ReconnectDelay: helpers.IntMillisecondDefault(c.Serial.ReconnectDelayMs, supervisor.DefaultReconnectDelay),
		ReconnectMax:   helpers.IntMillisecondDefault(c.Serial.ReconnectMaxMs, supervisor.DefaultReconnectMax),
	}
}

func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		MaxInflight:      c.Sink.MaxInflight,
		FailureThreshold: c.Sink.FailureThreshold,
	}
}

func (c *Config) FirebaseConfig() firebase.Config {
	return firebase.Config{
		URL:     c.Sink.Firebase.URL,
		Secret:  c.Sink.Firebase.Secret,
		Path:    c.Sink.Firebase.Path,
		Sensor:  c.Sink.Sensor,
		Timeout: helpers.IntSecondDefault(c.Sink.TimeoutSec, firebase.DefaultTimeout),
	}
}

func (c *Config) MQTTConfig() mqtt.Config {
	m := c.Sink.MQTT
	return mqtt.Config{
		Broker:    m.Broker,
		ClientID:  m.ClientID,
		Username:  m.Username,
		Password:  m.Password,
		Topic:     m.Topic,
		Sensor:    c.Sink.Sensor,
		Retained:  m.Retained,
		Keepalive: helpers.IntSecondDefault(m.KeepaliveSec, mqtt.DefaultKeepalive),
		Timeout:   helpers.IntSecondDefault(c.Sink.TimeoutSec, mqtt.DefaultTimeout),
	}
}
