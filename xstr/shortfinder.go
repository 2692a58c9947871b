// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package xstr

// ShortFinder generates a collision-free 8.3 short name for a long name
// that cannot be represented verbatim, following spec.md section 4.7 item
// 4: uppercase base + "~N" (N the smallest unused digit among siblings
// sharing the candidate's 6-byte prefix), falling back to a hashed
// "AAAAAA~4"-shaped name if all nine numbers are taken. Grounded on
// inode/xstr.rs's ShortFinder.
//
// Usage: construct with New, call Record once per existing sibling short
// entry in the target directory, then Apply to fill in the final short
// name.
type ShortFinder struct {
	name      [8]byte
	ext       [3]byte
	shortOnly bool
	nameLen   int
	force     bool // a character had to be substituted or truncated: ~N is mandatory
	haveSame  bool // an existing sibling has the exact same base name + extension
	numMask   [10]bool
	hash      uint16
}

// New builds a ShortFinder for src, which must already have passed Check.
// If src already fits as a verbatim 8.3 name, ShortOnly reports true and
// Apply uses it unmodified.
func New(src string) *ShortFinder {
	f := &ShortFinder{}
	if sn, ok := ToJustShort(src); ok {
		f.name = sn.Name
		f.ext = sn.Ext
		f.shortOnly = true
		return f
	}

	haveInvalid := false
	charForward := func(c rune) (byte, bool) {
		if c == '_' {
			return '_', true
		}
		if c > 0x7F {
			haveInvalid = true
			return '_', true
		}
		b := byte(c)
		switch b {
		case '+', ',', ';', '=', '[', ']':
			haveInvalid = true
			return '_', true
		case '.':
			return 0, false
		}
		if b >= 'a' && b <= 'z' {
			return b - ('a' - 'A'), true
		}
		return b, true
	}

	dot := -1
	for i := len(src) - 1; i >= 0; i-- {
		if src[i] == '.' {
			dot = i
			break
		}
	}

	nameStr, extStr := src, ""
	if dot >= 0 {
		nameStr, extStr = src[:dot], src[dot+1:]
	}

	for i := range f.name {
		f.name[i] = ' '
	}
	for i := range f.ext {
		f.ext[i] = ' '
	}

	for _, r := range nameStr {
		b, ok := charForward(r)
		if !ok {
			continue
		}
		if f.nameLen == len(f.name) {
			f.force = true
			break
		}
		f.name[f.nameLen] = b
		f.nameLen++
	}

	extLen := 0
	for _, r := range extStr {
		b, ok := charForward(r)
		if !ok {
			continue
		}
		if extLen == len(f.ext) {
			f.force = true
			break
		}
		f.ext[extLen] = b
		extLen++
	}

	f.force = f.force || haveInvalid
	f.hash = hashName(src)
	return f
}

func hashName(src string) uint16 {
	const base, m, a uint16 = 5234, 13719, 9715
	v := base
	for i := 0; i < len(src); i++ {
		v = v*m + a + uint16(src[i])
	}
	return v
}

// ShortOnly reports whether src needed no fallback at all: the directory
// scan that precedes short-name assignment already guarantees this exact
// short name cannot collide, so Record/Apply need not run.
func (f *ShortFinder) ShortOnly() bool {
	return f.shortOnly
}

// Record inspects one existing sibling short entry, updating the set of
// already-used "~N" suffixes (and whether the unmodified base collides
// outright) that Apply consults.
func (f *ShortFinder) Record(siblingName [8]byte, siblingExt [3]byte, free bool) {
	if f.shortOnly || free {
		return
	}
	if siblingExt != f.ext {
		return
	}
	if siblingName == f.name {
		f.haveSame = true
		return
	}

	checkP := f.nameLen
	if checkP > 6 {
		checkP = 6
	}
	for i := 0; i < checkP; i++ {
		if siblingName[i] != f.name[i] {
			return
		}
	}
	if siblingName[checkP] != '~' {
		return
	}
	c := siblingName[checkP+1]
	if c < '0' || c > '9' {
		return
	}
	if checkP+2 < len(siblingName) && siblingName[checkP+2] != ' ' {
		return
	}
	f.numMask[c-'0'] = true
}

// Apply fills dstName/dstExt with the final short name: verbatim if no
// fallback was ever needed, "PREFIX~N" for the smallest free N in 1..9, or
// a hashed "XY<hash>~4" form if every N is taken.
func (f *ShortFinder) Apply() (name [8]byte, ext [3]byte) {
	ext = f.ext
	if f.shortOnly || (!f.force && !f.haveSame) {
		return f.name, ext
	}

	for n := 1; n <= 9; n++ {
		if f.numMask[n] {
			continue
		}
		sep := f.nameLen
		if sep > 6 {
			sep = 6
		}
		copy(name[:sep], f.name[:sep])
		name[sep] = '~'
		name[sep+1] = '0' + byte(n)
		for i := sep + 2; i < len(name); i++ {
			name[i] = ' '
		}
		return name, ext
	}

	name[0] = f.name[0]
	switch f.nameLen {
	case 0:
		panic("xstr: ShortFinder.Apply called with an empty base name")
	case 1:
		name[1] = f.name[0]
	default:
		name[1] = f.name[1]
	}
	hexDigits(f.hash, name[2:6])
	name[6] = '~'
	name[7] = '4'
	return name, ext
}

func hexDigits(n uint16, dst []byte) {
	const digits = "0123456789ABCDEF"
	for i := 0; i < len(dst); i++ {
		shift := uint((len(dst) - 1 - i) * 4)
		dst[i] = digits[(n>>shift)&0xF]
	}
}
