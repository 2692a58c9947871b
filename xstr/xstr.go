// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package xstr implements the name codec (spec.md section 4.7): validation,
// UTF-8/UTF-16LE conversion for VFAT long-name entries, 8.3 short-name
// detection, and collision-free short-name generation.
package xstr

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/jacobsa/fat32fs/ferr"
)

// maxNameBytes bounds Check's rough length screen: a long name entry holds
// 13 UTF-16 code units and at most 31 entries chain together, and a UTF-8
// encoding of a code point is at most twice as wide as its UTF-16 one.
const maxNameBytes = 31 * 13 * 2 * 2

// trim strips leading spaces and trailing spaces/dots, except for the two
// dot-entries themselves which must pass through unchanged.
func trim(s string) string {
	if s == "." || s == ".." {
		return s
	}
	s = strings.TrimLeft(s, " ")
	return strings.TrimRight(s, " .")
}

// isIllegalByte reports whether b can never appear in a POSIX-presented
// name: an ASCII control character or one of the characters FAT32 and most
// shells treat specially.
func isIllegalByte(b byte) bool {
	if b >= 0x80 {
		return false
	}
	if b < 0x20 || b == 0x7F {
		return true
	}
	switch b {
	case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}

// Check trims s and validates it as a candidate directory entry name,
// returning the trimmed form. Length is checked only roughly in UTF-8
// bytes, not after actually encoding to UTF-16 (spec.md section 4.7).
func Check(s string) (string, error) {
	s = trim(s)
	if s == "" {
		return "", ferr.New("xstr.Check", ferr.InvalidArgument)
	}
	if len(s) > maxNameBytes {
		return "", ferr.New("xstr.Check", ferr.NameTooLong)
	}
	if !utf8.ValidString(s) {
		return "", ferr.New("xstr.Check", ferr.InvalidArgument)
	}
	for i := 0; i < len(s); i++ {
		if isIllegalByte(s[i]) {
			return "", ferr.New("xstr.Check", ferr.InvalidArgument)
		}
	}
	return s, nil
}

// ToUTF16 encodes s into the sequence of 13-code-unit groups a VFAT
// long-name entry run stores, in logical (forward) order; the caller
// writes them out reversed per spec.md section 4.7. In the last group, the
// slot right after the last character holds a NUL terminator if the group
// has room, and every slot after that is padded with 0xFFFF.
func ToUTF16(s string) ([][13]uint16, error) {
	if s == "" {
		return nil, nil
	}
	const maxGroups = 31
	units := utf16.Encode([]rune(s))

	var groups [][13]uint16
	i := 0
	for _, u := range units {
		if i == 0 {
			if len(groups) == maxGroups {
				return nil, ferr.New("xstr.ToUTF16", ferr.NameTooLong)
			}
			var g [13]uint16
			for j := range g {
				g[j] = 0xFFFF
			}
			groups = append(groups, g)
		}
		groups[len(groups)-1][i] = u
		i++
		if i >= 13 {
			i = 0
		}
	}
	if i != 0 {
		groups[len(groups)-1][i] = 0x0000
	}
	return groups, nil
}

// FromUTF16 decodes a long-name entry run, given in storage order (the
// last physical entry, which carries the first 13 characters, first): the
// caller reverses groups to logical order before calling this, matching
// utf16_to_string's contract on the source this was ported from. Decoding
// stops at the first NUL code unit; an unpaired surrogate decodes as
// U+FFFD rather than aborting.
func FromUTF16(groups [][13]uint16) string {
	var units []uint16
	for _, g := range groups {
		for _, u := range g {
			if u == 0x0000 {
				goto done
			}
			units = append(units, u)
		}
	}
done:
	return string(utf16.Decode(units))
}

// ShortName is the padded 8+3 byte representation of an 8.3 name.
type ShortName struct {
	Name [8]byte
	Ext  [3]byte
}

// ToJustShort reports whether s (already Check-ed) can be represented
// verbatim as an 8.3 short name with no lossy substitution, returning its
// padded fields if so (spec.md section 4.7 / original inode/xstr.rs's
// str_to_just_short, the canonical implementation per spec.md section 9).
func ToJustShort(s string) (ShortName, bool) {
	var sn ShortName
	for i := range sn.Name {
		sn.Name[i] = ' '
	}
	for i := range sn.Ext {
		sn.Ext[i] = ' '
	}

	if len(s) > 12 {
		return ShortName{}, false
	}
	if s == "." {
		sn.Name[0] = '.'
		return sn, true
	}
	if s == ".." {
		sn.Name[0] = '.'
		sn.Name[1] = '.'
		return sn, true
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 {
			return ShortName{}, false
		}
		switch {
		case c == ' ' || c == '+' || c == ',' || c == ';' || c == '=' || c == '[' || c == ']':
			return ShortName{}, false
		case c >= 'a' && c <= 'z':
			return ShortName{}, false
		}
	}

	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		if len(s) > 8 {
			return ShortName{}, false
		}
		copy(sn.Name[:], s)
		return sn, true
	}

	extLen := len(s) - dot - 1
	if dot > 8 || extLen > 3 || strings.IndexByte(s[:dot], '.') >= 0 {
		return ShortName{}, false
	}
	copy(sn.Name[:], s[:dot])
	copy(sn.Ext[:], s[dot+1:])
	return sn, true
}
