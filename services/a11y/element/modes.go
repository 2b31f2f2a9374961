// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package element

import "strings"

// PrefetchMode is the bit mask forwarded on by-id queries. It controls how
// much ancestor, sibling and descendant context the provider includes in a
// batch.
type PrefetchMode uint32

const (
	// PrefetchPredecessors includes the ancestors of the requested node.
	PrefetchPredecessors PrefetchMode = 1 << 0

	// PrefetchSiblings includes the siblings of the requested node.
	PrefetchSiblings PrefetchMode = 1 << 1

	// PrefetchChildren includes the direct children.
	PrefetchChildren PrefetchMode = 1 << 2

	// PrefetchRecursiveChildren includes every descendant.
	PrefetchRecursiveChildren PrefetchMode = 1 << 3

	// PrefetchMask is the set of bits a caller may request.
	PrefetchMask = PrefetchPredecessors | PrefetchSiblings | PrefetchChildren | PrefetchRecursiveChildren
)

// NormalizePrefetchMode converts a caller supplied mode: negative values
// select no prefetching, unknown bits are dropped.
func NormalizePrefetchMode(mode int32) PrefetchMode {
	if mode < 0 {
		return 0
	}
	return PrefetchMode(uint32(mode)) & PrefetchMask
}

// Has reports whether every bit of flag is set.
func (m PrefetchMode) Has(flag PrefetchMode) bool {
	return m&flag == flag
}

// String lists the set bits, e.g. "predecessors|children".
func (m PrefetchMode) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m.Has(PrefetchPredecessors) {
		parts = append(parts, "predecessors")
	}
	if m.Has(PrefetchSiblings) {
		parts = append(parts, "siblings")
	}
	if m.Has(PrefetchChildren) {
		parts = append(parts, "children")
	}
	if m.Has(PrefetchRecursiveChildren) {
		parts = append(parts, "recursive_children")
	}
	return strings.Join(parts, "|")
}

// FocusType selects which focus a focused-element query looks for.
type FocusType int32

const (
	// FocusTypeInvalid is rejected by the client.
	FocusTypeInvalid FocusType = -1

	// FocusTypeInput is the input (keyboard) focus.
	FocusTypeInput FocusType = 1 << 0

	// FocusTypeAccessibility is the accessibility focus.
	FocusTypeAccessibility FocusType = 1 << 1
)

// Valid reports whether t is a known focus type.
func (t FocusType) Valid() bool {
	return t == FocusTypeInput || t == FocusTypeAccessibility
}

// String returns the focus type name.
func (t FocusType) String() string {
	switch t {
	case FocusTypeInput:
		return "input"
	case FocusTypeAccessibility:
		return "accessibility"
	default:
		return "invalid"
	}
}

// ParseFocusType maps a name to a FocusType.
func ParseFocusType(s string) FocusType {
	switch strings.ToLower(s) {
	case "input":
		return FocusTypeInput
	case "accessibility", "a11y":
		return FocusTypeAccessibility
	default:
		return FocusTypeInvalid
	}
}

// Direction is a focus move direction for next-element traversal.
type Direction int32

const (
	DirectionInvalid  Direction = 0
	DirectionUp       Direction = 0x01
	DirectionDown     Direction = 0x02
	DirectionLeft     Direction = 0x04
	DirectionRight    Direction = 0x08
	DirectionForward  Direction = 0x10
	DirectionBackward Direction = 0x20
)

var directionNames = map[Direction]string{
	DirectionUp:       "up",
	DirectionDown:     "down",
	DirectionLeft:     "left",
	DirectionRight:    "right",
	DirectionForward:  "forward",
	DirectionBackward: "backward",
}

// Valid reports whether d is one of the defined directions.
func (d Direction) Valid() bool {
	_, ok := directionNames[d]
	return ok
}

// String returns the direction name.
func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "invalid"
}

// ParseDirection maps a name to a Direction.
func ParseDirection(s string) Direction {
	s = strings.ToLower(s)
	for d, name := range directionNames {
		if name == s {
			return d
		}
	}
	return DirectionInvalid
}
