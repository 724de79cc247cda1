// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtimefilter

import (
	"encoding/binary"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Flags is the u16 bitset carried in every wire message header:
// ignored, always-true, constant-false, polarity, null-contained.
type Flags uint16

const (
	FlagIgnored       Flags = 1 << 0
	FlagAlwaysTrue    Flags = 1 << 1
	FlagPolarityNotIn Flags = 1 << 2
	FlagNullContained Flags = 1 << 3
	FlagConstantFalse Flags = 1 << 4
)

// headerSize is filter id (u32) + kind tag (u8) + column-type tag (u8) +
// flags (u16).
const headerSize = 4 + 1 + 1 + 2

// wrapperContainsNull inspects the wrapper's current payload for its
// null flag, where the kind has one (in-set, bloom, in-or-bloom).
// min-max and bitmap carry no such flag in their payload.
func wrapperContainsNull(v FilterValue) bool {
	switch t := v.(type) {
	case *InSetValue:
		return t.ContainsNull()
	case *BloomValue:
		return t.containsNull
	case *InOrBloomValue:
		if t.promoted {
			return t.bloom.containsNull
		}
		return t.set.ContainsNull()
	default:
		return false
	}
}

func wrapperPolarity(v FilterValue) (Polarity, bool) {
	if b, ok := v.(*BitmapValue); ok {
		return b.Polarity(), true
	}
	return PolarityIn, false
}

// EncodeMessage assembles the shared header around the wrapper's
// kind-specific payload: filter id (u32), kind tag (u8),
// column-type tag (u8), flags (u16), then the payload FilterWrapper.
// Serialize produced.
func EncodeMessage(filterID FilterID, w *FilterWrapper) ([]byte, error) {
	body, err := w.Serialize()
	if err != nil {
		return nil, err
	}

	var flags Flags
	if w.IsIgnored() {
		flags |= FlagIgnored
	}
	if w.IsAlwaysTrue() {
		flags |= FlagAlwaysTrue
	}
	if w.IsConstantFalse() {
		flags |= FlagConstantFalse
	}
	val := w.Value()
	if wrapperContainsNull(val) {
		flags |= FlagNullContained
	}
	if polarity, ok := wrapperPolarity(val); ok && polarity == PolarityNotIn {
		flags |= FlagPolarityNotIn
	}

	out := make([]byte, headerSize, headerSize+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(filterID))
	out[4] = byte(w.Kind())
	out[5] = byte(w.ColumnType())
	binary.BigEndian.PutUint16(out[6:8], uint16(flags))
	out = append(out, body...)
	return out, nil
}

// DecodedMessage is the parsed form of a wire message, ready to be
// loaded into a consumer-side FilterWrapper via LoadSerialized.
type DecodedMessage struct {
	FilterID FilterID
	Kind     Kind
	ColType  ColumnType
	Flags    Flags
	Payload  []byte
}

// DecodeHeader splits the shared header from the kind-specific payload
// without interpreting the payload; callers construct the matching
// FilterWrapper (which knows its own capacity/bloom-sizing policy) and
// call LoadSerialized(payload) themselves.
func DecodeHeader(msg []byte) (DecodedMessage, error) {
	if len(msg) < headerSize {
		return DecodedMessage{}, rferr.SerializationErrorf("wire message truncated: %d bytes", len(msg))
	}
	return DecodedMessage{
		FilterID: FilterID(binary.BigEndian.Uint32(msg[0:4])),
		Kind:     Kind(msg[4]),
		ColType:  ColumnType(msg[5]),
		Flags:    Flags(binary.BigEndian.Uint16(msg[6:8])),
		Payload:  msg[headerSize:],
	}, nil
}
