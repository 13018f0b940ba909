package series

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSerializerState reports a call made out of the start/append/end order.
var ErrSerializerState = errors.New("serializer used out of order")

var (
	envelopeStart = []byte(`{"series":[`)
	envelopeEnd   = []byte(`]}`)
	separator     = []byte(",")
)

// A Serializer streams series into the {"series":[...]} envelope. Each
// series is encoded on its own, so one bad value fails only its append and
// leaves the envelope intact. A Serializer is used for exactly one batch.
type Serializer struct {
	out     *bytes.Buffer
	w       *bufio.Writer
	count   int
	started bool
	ended   bool
}

// NewSerializer returns a serializer accumulating into memory.
func NewSerializer() *Serializer {
	out := bytes.NewBuffer(make([]byte, 0, 2048))
	return &Serializer{
		out: out,
		w:   bufio.NewWriter(out),
	}
}

// StartObject opens the envelope and the series array.
func (s *Serializer) StartObject() error {
	if s.started {
		return fmt.Errorf("start: %w", ErrSerializerState)
	}
	s.started = true
	_, err := s.w.Write(envelopeStart)
	return err
}

func (s *Serializer) AppendGauge(g *Series) error {
	if g.Type != TypeGauge {
		return fmt.Errorf("append gauge %s: unexpected type %q", g.Metric, g.Type)
	}
	return s.append(g)
}

func (s *Serializer) AppendCounter(c *Series) error {
	if c.Type != TypeCounter {
		return fmt.Errorf("append counter %s: unexpected type %q", c.Metric, c.Type)
	}
	return s.append(c)
}

func (s *Serializer) append(ser *Series) error {
	if !s.started || s.ended {
		return fmt.Errorf("append %s: %w", ser.Metric, ErrSerializerState)
	}
	data, err := json.Marshal(ser)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ser.Metric, err)
	}
	if s.count > 0 {
		if _, err := s.w.Write(separator); err != nil {
			return err
		}
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	s.count++
	return nil
}

// EndObject closes the array and the envelope and flushes.
func (s *Serializer) EndObject() error {
	if !s.started || s.ended {
		return fmt.Errorf("end: %w", ErrSerializerState)
	}
	s.ended = true
	if _, err := s.w.Write(envelopeEnd); err != nil {
		return err
	}
	return s.w.Flush()
}

// Len is the number of series appended so far.
func (s *Serializer) Len() int {
	return s.count
}

// Bytes returns the encoded batch. Valid only after EndObject.
func (s *Serializer) Bytes() []byte {
	return s.out.Bytes()
}

// String returns the encoded batch as UTF-8 text. Valid only after EndObject.
func (s *Serializer) String() string {
	return s.out.String()
}
