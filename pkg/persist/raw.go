package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

// rawMagic opens every tagged raw file.
var rawMagic = [4]byte{'M', 'S', 'R', 'W'}

var ErrNotTaggedRaw = errors.New("not a tagged raw file")

type Location struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
	Time      time.Time `json:"time"`
}

// Tags is the exposure, geometry and position block written with raw data.
// It comes from the completed capture metadata the raw frame is paired with.
type Tags struct {
	DeviceID      string    `json:"deviceId"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Orientation   int       `json:"orientation"`
	ISO           int       `json:"iso"`
	SpeedNs       int64     `json:"speedNs"`
	FocusDistance float32   `json:"focusDistance"`
	Timestamp     time.Time `json:"timestamp"`
	Location      *Location `json:"location,omitempty"`
}

// RawEncoder turns a raw sensor frame and its tags into file bytes.
type RawEncoder interface {
	EncodeRaw(raw []byte, tags Tags) ([]byte, error)
}

// TaggedRaw prefixes the sensor data with a length-delimited JSON tag block:
// magic, uint32 block length, block, raw samples.
type TaggedRaw struct{}

func (TaggedRaw) EncodeRaw(raw []byte, tags Tags) ([]byte, error) {
	block, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal raw tags: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(rawMagic) + 4 + len(block) + len(raw))
	buf.Write(rawMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(block)))
	buf.Write(block)
	buf.Write(raw)

	return buf.Bytes(), nil
}

// DecodeTaggedRaw splits a file produced by TaggedRaw.
func DecodeTaggedRaw(data []byte) (Tags, []byte, error) {
	var tags Tags
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != rawMagic {
		return tags, nil, ErrNotTaggedRaw
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return tags, nil, ErrNotTaggedRaw
	}
	if int(n) > r.Len() {
		return tags, nil, ErrNotTaggedRaw
	}
	head := len(data) - r.Len()
	if err := json.Unmarshal(data[head:head+int(n)], &tags); err != nil {
		return tags, nil, fmt.Errorf("unmarshal raw tags: %w", err)
	}

	return tags, data[head+int(n):], nil
}
