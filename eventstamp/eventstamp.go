// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package eventstamp implements the fixed-grammar, lexicographically
// comparable timestamp used to order every field-level write in the
// CRDT core. An eventstamp combines a millisecond-precision UTC
// instant, a monotonic counter that disambiguates writes within the
// same millisecond, and a random nonce that breaks ties between
// independent replicas advancing the same millisecond/counter pair.
package eventstamp

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// counterWidth is the number of lowercase-hex digits used to encode the
// counter component. The grammar requires at least 4; this
// implementation keeps the teacher's original width rather than
// widening to 8, since within-millisecond throughput of 65,535 writes
// per process is far beyond what the single-threaded core can produce.
const counterWidth = 4

// nonceWidth is fixed at 4 hex digits by the wire format; unlike the
// counter, this is not configurable.
const nonceWidth = 4

const layout = "2006-01-02T15:04:05.000Z"

// Eventstamp is the string wire representation described in the
// package doc. Byte-wise comparison of two valid Eventstamps is
// equivalent to comparing (instant, counter, nonce) lexicographically.
type Eventstamp string

// ErrInvalidEventstamp is returned by Decode when the input does not
// match the grammar.
var ErrInvalidEventstamp = errors.New("invalid eventstamp")

// zero is the minimum possible Eventstamp value.
var zero = Encode(0, 0, "0000")

// Min returns the smallest possible Eventstamp.
func Min() Eventstamp {
	return zero
}

// Encode formats an instant (milliseconds since the Unix epoch), a
// monotonic counter, and a 4-hex-digit nonce into an Eventstamp. The
// counter is zero-padded to counterWidth; callers passing a counter
// whose hex representation would exceed that width produce a string
// that sorts out of the intended order within its millisecond, which
// should never happen in practice since the Clock resets the counter
// to zero on every millisecond advance.
func Encode(instantMs int64, counter uint32, nonce string) Eventstamp {
	instant := time.UnixMilli(instantMs).UTC().Format(layout)
	counterHex := padHex(uint64(counter), counterWidth)
	return Eventstamp(instant + "|" + counterHex + "|" + nonce)
}

func padHex(v uint64, width int) string {
	s := strconv.FormatUint(v, 16)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Decode splits an Eventstamp back into its instant (in milliseconds
// since the Unix epoch), counter, and nonce components. It fails with
// ErrInvalidEventstamp if the grammar check rejects the input.
func Decode(s Eventstamp) (instantMs int64, counter uint32, nonce string, err error) {
	parts := strings.Split(string(s), "|")
	if len(parts) != 3 {
		return 0, 0, "", errors.Wrapf(ErrInvalidEventstamp, "%q: expected 3 pipe-delimited fields", s)
	}

	instant, err := time.Parse(layout, parts[0])
	if err != nil {
		return 0, 0, "", errors.Wrapf(ErrInvalidEventstamp, "%q: bad instant", s)
	}

	if len(parts[1]) < counterWidth || !isLowerHex(parts[1]) {
		return 0, 0, "", errors.Wrapf(ErrInvalidEventstamp, "%q: bad counter", s)
	}
	counterVal, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, "", errors.Wrapf(ErrInvalidEventstamp, "%q: bad counter", s)
	}

	if len(parts[2]) != nonceWidth || !isLowerHex(parts[2]) {
		return 0, 0, "", errors.Wrapf(ErrInvalidEventstamp, "%q: bad nonce", s)
	}

	return instant.UnixMilli(), uint32(counterVal), parts[2], nil
}

func isLowerHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// IsValid reports whether s matches the exact Eventstamp grammar.
func IsValid(s Eventstamp) bool {
	_, _, _, err := Decode(s)
	return err == nil
}

// Compare returns -1, 0, or 1 as a byte-wise comparison of a and b,
// which (by construction of the fixed-width grammar) is equivalent to
// comparing their decoded (instant, counter, nonce) tuples.
func Compare(a, b Eventstamp) int {
	return strings.Compare(string(a), string(b))
}

// Max returns whichever of a and b compares greater. A zero-value
// (empty string) argument is treated as less than any valid
// Eventstamp, which lets callers fold an optional "no value yet" state
// into Max without a separate nil check.
func Max(a, b Eventstamp) Eventstamp {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// String implements fmt.Stringer.
func (e Eventstamp) String() string {
	return string(e)
}
