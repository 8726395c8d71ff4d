// Package keystroke decodes and encodes the raw keystroke wire format:
//
//	dev0,dev1,...,devM|char,seek,press,key|char,seek,press,key|...
//
// The leading segment carries device info; each following segment is one keystroke.
package keystroke

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/cadence/internal/domain"
)

const (
	segmentSep = "|"
	fieldSep   = ","

	// fieldsPerKey is the number of values in a keystroke record.
	fieldsPerKey = 4

	// Device segment positions.
	deviceIsMobile       = 0
	deviceInputType      = 3
	devicePasswordLength = 4
	devicePasswordHash   = 5
	minDeviceFields      = 6
)

// ParseError describes where a raw keystroke string is malformed.
// Segment 0 is the device segment; Field is -1 when the whole segment is at fault.
type ParseError struct {
	Segment int
	Field   int
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("keystroke segment %d: %s", e.Segment, e.Reason)
	}
	return fmt.Sprintf("keystroke segment %d field %d: %s", e.Segment, e.Field, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, domain.ErrParse).
func (e *ParseError) Unwrap() error {
	return domain.ErrParse
}

// Parse decodes a raw keystroke string into a sample.
// seekTime[0] has no preceding key, so it is replaced with the mean of the
// remaining seek times (0 when the sample has a single keystroke).
func Parse(raw string) (*domain.KeystrokeSample, error) {
	segments := strings.Split(raw, segmentSep)
	if len(segments) < 2 {
		return nil, &ParseError{Segment: 0, Field: -1, Reason: "expected device segment and at least one keystroke"}
	}

	device := strings.Split(segments[0], fieldSep)
	if len(device) < minDeviceFields {
		return nil, &ParseError{Segment: 0, Field: -1, Reason: fmt.Sprintf("expected at least %d device fields, got %d", minDeviceFields, len(device))}
	}
	for i := range device {
		device[i] = strings.TrimSpace(device[i])
	}
	for _, idx := range []int{deviceIsMobile, deviceInputType, devicePasswordLength} {
		if _, err := parseNumber(device[idx]); err != nil {
			return nil, &ParseError{Segment: 0, Field: idx, Reason: err.Error()}
		}
	}

	k := len(segments) - 1
	sample := &domain.KeystrokeSample{
		Device:    device,
		CharCode:  make([]float64, k),
		SeekTime:  make([]float64, k),
		PressTime: make([]float64, k),
		KeyCode:   make([]float64, k),
	}

	for i, seg := range segments[1:] {
		fields := strings.Split(seg, fieldSep)
		if len(fields) != fieldsPerKey {
			return nil, &ParseError{Segment: i + 1, Field: -1, Reason: fmt.Sprintf("expected %d fields, got %d", fieldsPerKey, len(fields))}
		}

		var rec [fieldsPerKey]float64
		for j, f := range fields {
			v, err := parseNumber(f)
			if err != nil {
				return nil, &ParseError{Segment: i + 1, Field: j, Reason: err.Error()}
			}
			rec[j] = v
		}

		sample.CharCode[i] = rec[0]
		sample.SeekTime[i] = rec[1]
		sample.PressTime[i] = rec[2]
		sample.KeyCode[i] = rec[3]
	}

	normalizeFirstSeek(sample.SeekTime)
	return sample, nil
}

// ParseAll decodes a list of raw strings, stopping at the first failure.
func ParseAll(raws []string) ([]*domain.KeystrokeSample, error) {
	samples := make([]*domain.KeystrokeSample, 0, len(raws))
	for i, raw := range raws {
		s, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Format encodes a sample back into the wire format.
func Format(s *domain.KeystrokeSample) string {
	var b strings.Builder
	b.WriteString(strings.Join(s.Device, fieldSep))

	for i := 0; i < s.Len(); i++ {
		b.WriteString(segmentSep)
		b.WriteString(formatNumber(s.CharCode[i]))
		b.WriteString(fieldSep)
		b.WriteString(formatNumber(s.SeekTime[i]))
		b.WriteString(fieldSep)
		b.WriteString(formatNumber(s.PressTime[i]))
		b.WriteString(fieldSep)
		b.WriteString(formatNumber(s.KeyCode[i]))
	}
	return b.String()
}

func normalizeFirstSeek(seek []float64) {
	if len(seek) == 0 {
		return
	}
	if len(seek) == 1 {
		seek[0] = 0
		return
	}
	var sum float64
	for _, v := range seek[1:] {
		sum += v
	}
	seek[0] = sum / float64(len(seek)-1)
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric value %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
