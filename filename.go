// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/scanner"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	// AlwaysRejectRunes contains runes that are not safe to use with network shares.
	//
	// Please note that '/' is already discarded at an earlier stage.
	AlwaysRejectRunes = `"*:<>?|\`

	runeSpatium = '\u2009'

	errStrUnexpectedRange = "Unexpected Unicode range: "
)

// Happen when parsing ranges.
var (
	errOutOfBounds = errors.New("Value out of bounds")
)

// Not all runes in unicode.PrintRanges are suitable for filenames.
// They are collected here.
var excludedRunes = &unicode.RangeTable{
	R16: []unicode.Range16{
		{0x2028, 0x202f, 1}, // new line, paragraph etc.
		{0xfff0, 0xffff, 1}, // specials, and invalid (includes the obsolete (invalid) terminal boxes)
	},
	LatinOffset: 0,
}

// FilenamePolicy governs which names of uploaded files are accepted.
//
// Filenames are not transliterated to prevent loops within clusters of mirrors.
// The zero value accepts any name consisting of printable runes.
type FilenamePolicy struct {
	// Reject names with any of AlwaysRejectRunes, which network shares cannot store.
	ShareSafe bool

	// If set, names must be in this Unicode normal form.
	// Most of the Internet is in NFC
	// (though that even changes within pages, for example for Japanese names).
	Form *norm.Form

	// If set, reduces the supremum unicode.PrintRanges.
	RestrictTo []*unicode.RangeTable
}

// Clean returns the name a file will be stored under,
// which is the last element of what the client sent.
//
// Clients on Windows might send their backslash-separated paths,
// hence these count as separator.
func (p FilenamePolicy) Clean(originalFilename string) (string, error) {
	name := path.Base(strings.ReplaceAll(originalFilename, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "", errors.Errorf("unacceptable filename %q", originalFilename)
	}
	if !isAcceptableFilename(name, p.RestrictTo, p.Form, p.ShareSafe) {
		return "", errors.Errorf("unacceptable filename %q", originalFilename)
	}
	return name, nil
}

// IsAcceptableFilename is used to enforce filenames in wanted alphabet(s).
// Setting 'reduceAcceptableRunesTo' reduces the supremum unicode.PrintRanges.
//
// A string with runes other than U+0020 (space) or U+2009 (spatium)
// representing space will be rejected, as will any with AlwaysRejectRunes.
func IsAcceptableFilename(s string, reduceAcceptableRunesTo []*unicode.RangeTable,
	enforceForm *norm.Form) bool {
	return isAcceptableFilename(s, reduceAcceptableRunesTo, enforceForm, true)
}

func isAcceptableFilename(s string, reduceAcceptableRunesTo []*unicode.RangeTable,
	enforceForm *norm.Form, shareSafe bool) bool {
	if enforceForm != nil && !enforceForm.IsNormalString(s) {
		return false
	}

	for _, r := range s {
		if reduceAcceptableRunesTo != nil && !unicode.In(r, reduceAcceptableRunesTo...) {
			return false
		}
		if shareSafe && r <= unicode.MaxLatin1 && strings.ContainsRune(AlwaysRejectRunes, r) {
			return false
		}
		if r == runeSpatium {
			continue
		}
		if unicode.Is(excludedRunes, r) ||
			!unicode.IsPrint(r) { // this takes care of the "spaces" as well
			return false
		}
	}

	return true
}

// ParseUnicodeBlockList naïvely translates a string with space-delimited Unicode ranges to Go's unicode.RangeTable.
//
// All elements must fit into uint32.
// A Range must begin with its lower bound, and ranges must not overlap (we don't check this here!).
//
// The format of one range is as follows, with 'stride' being set to '1' if left empty.
//
//	<low>-<high>[:<stride>]
func ParseUnicodeBlockList(str string) (*unicode.RangeTable, error) {
	haveRanges := make([][3]uint64, 0, strings.Count(str, " ")+1)

	var s scanner.Scanner
	s.Init(strings.NewReader(str))
	unexpected := func() error {
		return errors.New(errStrUnexpectedRange + s.Pos().String())
	}
	codepoint := func(tok rune) (uint64, error) {
		if tok != scanner.Ident {
			return 0, unexpected()
		}
		v, err := strconv.ParseUint(strings.TrimLeft(s.TokenText(), "uU+x"), 16, 32)
		if err != nil {
			return 0, unexpected()
		}
		return v, nil
	}

	for tok := s.Scan(); tok != scanner.EOF; {
		low, err := codepoint(tok)
		if err != nil {
			return nil, err
		}
		if tok = s.Scan(); !(tok == '-' || tok == '–') {
			return nil, unexpected()
		}
		high, err := codepoint(s.Scan())
		if err != nil {
			return nil, err
		}

		stride := uint64(1)
		if tok = s.Scan(); tok == ':' {
			if s.Scan() != scanner.Int {
				return nil, unexpected()
			}
			if stride, err = strconv.ParseUint(s.TokenText(), 10, 32); err != nil {
				return nil, unexpected()
			}
			tok = s.Scan()
		}
		haveRanges = append(haveRanges, [3]uint64{low, high, stride})
	}

	sort.Slice(haveRanges, func(i, j int) bool {
		for n := range haveRanges[i] {
			if haveRanges[i][n] != haveRanges[j][n] {
				return haveRanges[i][n] < haveRanges[j][n]
			}
		}
		return false
	})

	// fold
	rt := unicode.RangeTable{}
	for _, r := range haveRanges {
		switch {
		case r[1] <= math.MaxUint16:
			if r[1] <= unicode.MaxLatin1 {
				rt.LatinOffset++
			}
			rt.R16 = append(rt.R16, unicode.Range16{Lo: uint16(r[0]), Hi: uint16(r[1]), Stride: uint16(r[2])})
		case r[1] <= math.MaxUint32:
			rt.R32 = append(rt.R32, unicode.Range32{Lo: uint32(r[0]), Hi: uint32(r[1]), Stride: uint32(r[2])})
		default:
			return nil, errOutOfBounds
		}
	}

	return &rt, nil
}
