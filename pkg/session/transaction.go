package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"manual-shutter/pkg/device"
)

type ArtifactKind int

const (
	ArtifactCompressed ArtifactKind = iota
	ArtifactRaw
	ArtifactMetadata
	numArtifactKinds
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactCompressed:
		return "jpeg"
	case ArtifactRaw:
		return "raw"
	case ArtifactMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("artifact(%d)", int(k))
	}
}

// Pending is the set of artifacts a transaction still waits for.
type Pending struct {
	need [numArtifactKinds]bool
}

func NewPending(kinds ...ArtifactKind) Pending {
	var p Pending
	for _, k := range kinds {
		if k >= 0 && k < numArtifactKinds {
			p.need[k] = true
		}
	}
	return p
}

// Satisfy clears kind and reports whether it was still required.
func (p *Pending) Satisfy(k ArtifactKind) bool {
	if k < 0 || k >= numArtifactKinds || !p.need[k] {
		return false
	}
	p.need[k] = false
	return true
}

func (p Pending) Requires(k ArtifactKind) bool {
	return k >= 0 && k < numArtifactKinds && p.need[k]
}

func (p Pending) AllSatisfied() bool {
	for _, n := range p.need {
		if n {
			return false
		}
	}
	return true
}

func (p Pending) String() string {
	var parts []string
	for k, n := range p.need {
		if n {
			parts = append(parts, ArtifactKind(k).String())
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Transaction is one still capture spanning several asynchronous artifacts.
type Transaction struct {
	ID       string
	Started  time.Time
	BaseName string
	Output   OutputMode
	Pending  Pending
	Request  Request

	Raw        *Artifact
	Compressed *Artifact
	Metadata   *Result
}

func newTransaction(output OutputMode, now time.Time, prefix string) *Transaction {
	kinds := append(output.Kinds(), ArtifactMetadata)
	return &Transaction{
		ID:       uuid.NewString(),
		Started:  now,
		BaseName: BaseName(prefix, now),
		Output:   output,
		Pending:  NewPending(kinds...),
	}
}

// BaseName stamps a file base name from the capture start time.
func BaseName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s%s_%03d", prefix, t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// store keeps an artifact and reports whether it completed a requirement.
// Unexpected or duplicate artifacts are not stored and stay with the caller.
func (tx *Transaction) store(a *Artifact) bool {
	if !tx.Pending.Satisfy(a.Kind) {
		return false
	}
	switch a.Kind {
	case ArtifactCompressed:
		tx.Compressed = a
	case ArtifactRaw:
		tx.Raw = a
	}
	return true
}

func (tx *Transaction) storeMetadata(r Result) bool {
	if !tx.Pending.Satisfy(ArtifactMetadata) {
		return false
	}
	tx.Metadata = &r
	return true
}

func (tx *Transaction) release() {
	tx.Raw.release()
	tx.Compressed.release()
}

const mb = 1 << 20

// RequiredMB is the free memory a capture needs before it may start. Raw
// frames count twice to leave room for encoding.
func RequiredMB(output OutputMode, caps *device.Capabilities) uint64 {
	var bytes uint64
	switch output {
	case OutputRaw:
		bytes = caps.RawBytes() * 2
	case OutputJPEGAndRaw:
		bytes = caps.RawBytes()*2 + caps.CompressedBytes()
	default:
		bytes = caps.CompressedBytes()
	}
	return (bytes + mb - 1) / mb
}
