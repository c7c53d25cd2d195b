// Package sink is upstream telemetry store contract.
package sink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/sensorgate/frame"
)

const DefaultSensor = "DHT11"

type Sink interface {
	// Send uploads one reading. Errors are *Failure.
	Send(ctx context.Context, r frame.Reading) error
	// Check tests store reachability and credentials.
	Check(ctx context.Context) error
	Close() error
}

type Kind uint8

const (
	KindNone Kind = iota
	NetworkUnavailable
	Timeout
	ServerRejected
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case NetworkUnavailable:
		return "NetworkUnavailable"
	case Timeout:
		return "Timeout"
	case ServerRejected:
		return "ServerRejected"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Failure is UploadFailure, StatusCode is set for ServerRejected.
type Failure struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (self *Failure) Error() string {
	switch {
	case self.Kind == ServerRejected && self.Err != nil:
		return fmt.Sprintf("upload %s status=%d: %v", self.Kind, self.StatusCode, self.Err)
	case self.Kind == ServerRejected:
		return fmt.Sprintf("upload %s status=%d", self.Kind, self.StatusCode)
	case self.Err != nil:
		return fmt.Sprintf("upload %s: %v", self.Kind, self.Err)
	}
	return "upload " + self.Kind.String()
}

func (self *Failure) Unwrap() error { return self.Err }

func Rejected(status int, body string) *Failure {
	f := &Failure{Kind: ServerRejected, StatusCode: status}
	if body != "" {
		f.Err = errors.New(body)
	}
	return f
}

// Classify maps transport error to failure kind. nil stays nil.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := errors.Cause(err).(*Failure); ok {
		return f
	}
	if f := (*Failure)(nil); stderrors.As(err, &f) {
		return f
	}
	if errors.IsTimeout(err) || stderrors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: Timeout, Err: err}
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return &Failure{Kind: Timeout, Err: err}
	}
	return &Failure{Kind: NetworkUnavailable, Err: err}
}

// KindOf returns KindNone for nil.
func KindOf(err error) Kind {
	if f := Classify(err); f != nil {
		return f.Kind
	}
	return KindNone
}

// Payload is JSON document stored per reading.
type Payload struct {
	ID              string  `json:"id"`
	Temperature     float64 `json:"temperatura"`
	Humidity        float64 `json:"umidade"`
	Timestamp       string  `json:"timestamp"`
	TimestampUnix   int64   `json:"timestamp_unix"`
	TemperatureUnit string  `json:"unidade_temperatura"`
	HumidityUnit    string  `json:"unidade_umidade"`
	Sensor          string  `json:"sensor"`
}

func NewPayload(r frame.Reading, sensor string) Payload {
	if sensor == "" {
		sensor = DefaultSensor
	}
	return Payload{
		ID:              uuid.NewString(),
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		Timestamp:       r.ObservedAt.Format(time.RFC3339),
		TimestampUnix:   r.ObservedAt.Unix(),
		TemperatureUnit: "°C",
		HumidityUnit:    "%",
		Sensor:          sensor,
	}
}

func (p Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	return b, errors.Annotate(err, "payload marshal")
}
