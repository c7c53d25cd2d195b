// Package firebase uploads readings to Firebase Realtime Database REST API.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

const (
	DefaultPath    = "/sensores/dht11"
	DefaultTimeout = 10 * time.Second
	checkPath      = "/teste_conexao"
	maxBody        = 4 << 10
)

type Config struct {
	URL     string
	Secret  string
	Path    string
	Sensor  string
	Timeout time.Duration
}

type Sink struct {
	base    string
	path    string
	secret  string
	sensor  string
	timeout time.Duration
	client  *http.Client
	log     *log2.Log
}

var _ sink.Sink = &Sink{}

// New with nil client uses fresh http.Client.
func New(config Config, client *http.Client, log *log2.Log) (*Sink, error) {
	u, err := url.Parse(strings.TrimSpace(config.URL))
	if err != nil {
		return nil, errors.Annotate(err, "firebase url")
	}
	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return nil, errors.NotValidf("firebase url=%s", config.URL)
	}
	if config.Secret == "" {
		return nil, errors.NotValidf("firebase empty secret")
	}
	if client == nil {
		client = &http.Client{}
	}
	self := &Sink{
		base:    strings.TrimRight(u.String(), "/"),
		path:    cleanPath(config.Path),
		secret:  config.Secret,
		sensor:  config.Sensor,
		timeout: config.Timeout,
		client:  client,
		log:     log.Prefixed("firebase: "),
	}
	if self.timeout <= 0 {
		self.timeout = DefaultTimeout
	}
	return self, nil
}

func cleanPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return DefaultPath
	}
	return "/" + p
}

// Send POSTs payload into list at path, server assigns key.
func (self *Sink) Send(ctx context.Context, r frame.Reading) error {
	p := sink.NewPayload(r, self.sensor)
	b, err := p.Marshal()
	if err != nil {
		return errors.Trace(err)
	}
	body, err := self.do(ctx, http.MethodPost, self.path, b)
	if err != nil {
		return err
	}
	var resp struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Name != "" {
		self.log.Debugf("stored key=%s id=%s", resp.Name, p.ID)
	}
	return nil
}

// Check PUTs marker document, verifies network and secret.
func (self *Sink) Check(ctx context.Context) error {
	b, err := json.Marshal(map[string]string{
		"teste":     "conexao",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = self.do(ctx, http.MethodPut, checkPath, b)
	return err
}

func (self *Sink) Close() error {
	self.client.CloseIdleConnections()
	return nil
}

func (self *Sink) endpoint(path string) string {
	return self.base + path + ".json?auth=" + url.QueryEscape(self.secret)
}

func (self *Sink) do(ctx context.Context, method, path string, b []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, self.endpoint(path), bytes.NewReader(b))
	if err != nil {
		return nil, errors.Annotatef(err, "firebase %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := self.client.Do(req)
	if err != nil {
		// url.Error carries full url with secret
		if ue, ok := err.(*url.Error); ok {
			ue.URL = self.base + path
		}
		return nil, sink.Classify(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, sink.Classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		self.log.Debugf("%s %s status=%d body=%s", method, path, resp.StatusCode, body)
		return nil, sink.Rejected(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
