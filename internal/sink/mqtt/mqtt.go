// Package mqtt publishes readings to MQTT broker.
package mqtt

import (
	"context"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/helpers"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultKeepalive = 60 * time.Second
	qos              = 1
)

type Config struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	Sensor    string
	Retained  bool
	Keepalive time.Duration
	Timeout   time.Duration
}

// Client is subset of paho.Client.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type Sink struct {
	client Client
	config Config
	log    *log2.Log
}

var _ sink.Sink = &Sink{}

// New connects in background with auto reconnect, waiting at most config.Timeout for first connection.
func New(config Config, log *log2.Log) (*Sink, error) {
	if config.Broker == "" || config.Topic == "" {
		return nil, errors.NotValidf("mqtt broker=%q topic=%q", config.Broker, config.Topic)
	}
	config = withDefaults(config)
	log = log.Prefixed("mqtt: ")
	paho.ERROR = log
	paho.CRITICAL = log
	paho.WARN = log

	opt := paho.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetCleanSession(true).
		SetKeepAlive(config.Keepalive).
		SetPingTimeout(config.Timeout).
		SetConnectTimeout(config.Timeout).
		SetWriteTimeout(config.Timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(helpers.IntSecondDefault(int(config.Keepalive/time.Second)/2, 30*time.Second)).
		SetOnConnectHandler(func(paho.Client) { log.Infof("connected broker=%s", config.Broker) }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { log.Errorf("connection lost err=%v", err) })
	client := paho.NewClient(opt)
	token := client.Connect()
	if !token.WaitTimeout(config.Timeout) {
		log.Infof("broker=%s not connected yet, retrying in background", config.Broker)
	} else if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, errors.Annotatef(err, "mqtt connect broker=%s", config.Broker)
	}
	return NewWithClient(client, config, log), nil
}

// NewWithClient wraps ready client, log is used as is.
func NewWithClient(client Client, config Config, log *log2.Log) *Sink {
	return &Sink{client: client, config: withDefaults(config), log: log}
}

func withDefaults(c Config) Config {
	if c.ClientID == "" {
		c.ClientID = "sensorgate"
	}
	if c.Keepalive <= 0 {
		c.Keepalive = DefaultKeepalive
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (self *Sink) Send(ctx context.Context, r frame.Reading) error {
	if !self.client.IsConnected() {
		return &sink.Failure{Kind: sink.NetworkUnavailable, Err: errors.New("mqtt not connected")}
	}
	p := sink.NewPayload(r, self.config.Sensor)
	b, err := p.Marshal()
	if err != nil {
		return errors.Trace(err)
	}
	token := self.client.Publish(self.config.Topic, qos, self.config.Retained, b)
	if err = self.wait(ctx, token); err != nil {
		return err
	}
	self.log.Debugf("published topic=%s id=%s", self.config.Topic, p.ID)
	return nil
}

func (self *Sink) wait(ctx context.Context, token paho.Token) error {
	tmr := time.NewTimer(self.config.Timeout)
	defer tmr.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return sink.Classify(errors.Annotatef(err, "mqtt publish topic=%s", self.config.Topic))
		}
		return nil
	case <-tmr.C:
		return &sink.Failure{Kind: sink.Timeout, Err: errors.Timeoutf("mqtt publish topic=%s", self.config.Topic)}
	case <-ctx.Done():
		return sink.Classify(ctx.Err())
	}
}

func (self *Sink) Check(ctx context.Context) error {
	if !self.client.IsConnected() {
		return &sink.Failure{Kind: sink.NetworkUnavailable, Err: errors.New("mqtt not connected")}
	}
	return nil
}

func (self *Sink) Close() error {
	self.client.Disconnect(250)
	return nil
}
