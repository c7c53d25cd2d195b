// Package frame parses sensor lines of form `UMD:<humidity>|TMP:<temperature>`.
//
// Parse is pure: same line and clock reading give same result.
// Rejections form a closed set of kinds, see Kind.
package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	Prefix          = "UMD:"
	TemperatureTag  = "TMP:"
	Separator       = "|"
	HumidityMin     = 0
	HumidityMax     = 100
	TemperatureMin  = -40
	TemperatureMax  = 80
	roundMultiplier = 100
)

type Reading struct {
	Temperature float64
	Humidity    float64
	ObservedAt  time.Time
}

func (r Reading) String() string {
	return fmt.Sprintf("T=%.2f°C H=%.2f%%", r.Temperature, r.Humidity)
}

type Kind uint8

const (
	KindNone Kind = iota
	NotAFrame
	MalformedFrame
	NumericParseError
	OutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case NotAFrame:
		return "not-a-frame"
	case MalformedFrame:
		return "malformed-frame"
	case NumericParseError:
		return "numeric-parse-error"
	case OutOfRange:
		return "out-of-range"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Rejection explains why line did not produce Reading.
// Text is offending input: whole line or number text for NumericParseError.
// Humidity and Temperature are set for OutOfRange only.
type Rejection struct {
	Kind        Kind
	Text        string
	Humidity    float64
	Temperature float64
}

func (r *Rejection) Error() string {
	switch r.Kind {
	case NumericParseError:
		return fmt.Sprintf("frame %s text=%q", r.Kind, r.Text)
	case OutOfRange:
		return fmt.Sprintf("frame %s humidity=%g temperature=%g", r.Kind, r.Humidity, r.Temperature)
	}
	return fmt.Sprintf("frame %s line=%q", r.Kind, r.Text)
}

// KindOf returns rejection kind of err, KindNone for nil or foreign errors.
func KindOf(err error) Kind {
	if r, ok := errors.Cause(err).(*Rejection); ok {
		return r.Kind
	}
	return KindNone
}

// HasPrefix reports whether line looks like a sensor frame.
// Enough to identify the device, even if numbers do not parse.
func HasPrefix(line string) bool { return strings.HasPrefix(line, Prefix) }

// ParseNow is Parse with wall clock.
func ParseNow(line string) (Reading, error) { return Parse(line, time.Now()) }

func Parse(line string, now time.Time) (Reading, error) {
	if !HasPrefix(line) {
		return Reading{}, &Rejection{Kind: NotAFrame, Text: line}
	}
	// segments after the second are ignored
	parts := strings.Split(line, Separator)
	if len(parts) < 2 {
		return Reading{}, &Rejection{Kind: MalformedFrame, Text: line}
	}
	humidity, err := parseNumber(strings.TrimPrefix(parts[0], Prefix))
	if err != nil {
		return Reading{}, err
	}
	temperature, err := parseNumber(strings.TrimPrefix(strings.TrimSpace(parts[1]), TemperatureTag))
	if err != nil {
		return Reading{}, err
	}
	if humidity < HumidityMin || humidity > HumidityMax ||
		temperature < TemperatureMin || temperature > TemperatureMax {
		return Reading{}, &Rejection{Kind: OutOfRange, Text: line, Humidity: humidity, Temperature: temperature}
	}
	return Reading{
		Temperature: round2(temperature),
		Humidity:    round2(humidity),
		ObservedAt:  now,
	}, nil
}

// Format renders wire form of r, without newline.
func Format(r Reading) string {
	return Prefix + strconv.FormatFloat(r.Humidity, 'f', -1, 64) +
		Separator + TemperatureTag + strconv.FormatFloat(r.Temperature, 'f', -1, 64)
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	// ParseFloat accepts inf/nan/hex spellings, device never sends them
	if !isDecimal(s) {
		return 0, &Rejection{Kind: NumericParseError, Text: s}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &Rejection{Kind: NumericParseError, Text: s}
	}
	return f, nil
}

// [+-]digits[.digits] or [+-].digits
func isDecimal(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	digits, dots := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}

func round2(f float64) float64 {
	return math.Round(f*roundMultiplier) / roundMultiplier
}
