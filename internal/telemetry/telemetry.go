// Package telemetry implements the outbound binary frame format of spec
// §6.6 and the subscription pattern matcher that selects which signals go
// into a given push. It has no server of its own — spec.md scopes the
// WebSocket collaborator itself out as an external consumer; this package
// only produces the bytes that consumer would read off the backplane.
package telemetry

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"hermes/internal/backplane"
)

// Magic is the telemetry frame's magic constant, "HERT" little-endian,
// per spec §6.6. Distinct from backplane.Magic ("HERM") — this tags the
// wire frame, not the shared-memory segment.
const Magic uint32 = 0x48455254

// frameHeaderSize is the fixed prefix before the value array: magic(4) +
// frame(8) + time_seconds(8) + count(4).
const frameHeaderSize = 24

// Subscription selects which signals a given telemetry stream receives.
// Patterns are matched in declaration order against a signal's qualified
// name: an exact name, "module.*" (every signal on that module), or "*"
// (every signal in the registry).
type Subscription struct {
	patterns []string
}

// NewSubscription builds a Subscription from a list of patterns. Order
// is preserved since Encode emits values in subscription order, not
// registry order.
func NewSubscription(patterns []string) *Subscription {
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return &Subscription{patterns: cp}
}

// Matches reports whether qualified name name is selected by any pattern
// in the subscription.
func (s *Subscription) Matches(name string) bool {
	for _, p := range s.patterns {
		if matchOne(p, name) {
			return true
		}
	}
	return false
}

func matchOne(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		module := strings.TrimSuffix(pattern, ".*")
		dot := strings.IndexByte(name, '.')
		return dot >= 0 && name[:dot] == module
	}
	return pattern == name
}

// Resolve expands the subscription against a directory of qualified
// names (as returned by backplane.Segment.Directory), in pattern
// declaration order, then name order within a pattern, deduplicating any
// name matched by more than one pattern. This fixes the "subscription
// order" the wire format requires each push to repeat.
func (s *Subscription) Resolve(directory []backplane.SignalSpec) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.patterns {
		var matched []string
		for _, sig := range directory {
			if matchOne(p, sig.Name) && !seen[sig.Name] {
				matched = append(matched, sig.Name)
			}
		}
		sort.Strings(matched)
		for _, name := range matched {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Frame is one snapshot ready for encoding: the clock pair plus the
// resolved subscription values, already sampled in subscription order.
type Frame struct {
	FrameNo uint64
	TimeNs  uint64
	Values  []float64
}

// Sample reads seg for every name in order, widened to f64 per the
// public accessor contract (spec §9 Design Note (b)), and pairs them
// with the segment's current clock.
func Sample(seg *backplane.Segment, names []string) (Frame, error) {
	values := make([]float64, len(names))
	for i, name := range names {
		v, err := seg.GetSignal(name)
		if err != nil {
			return Frame{}, err
		}
		values[i] = v
	}
	return Frame{
		FrameNo: seg.GetFrame(),
		TimeNs:  seg.GetTimeNs(),
		Values:  values,
	}, nil
}

// Encode serializes f into the wire format of spec §6.6:
//
//	u32 LE magic | u64 LE frame | f64 LE time_seconds | u32 LE count | f64 LE[count] values
func Encode(f Frame) []byte {
	buf := make([]byte, frameHeaderSize+8*len(f.Values))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint64(buf[4:12], f.FrameNo)
	timeSeconds := float64(f.TimeNs) / 1e9
	binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(timeSeconds))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(f.Values)))
	for i, v := range f.Values {
		off := frameHeaderSize + 8*i
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
	}
	return buf
}
