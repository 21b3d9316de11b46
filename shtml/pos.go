package shtml

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Pos is a source location in a template.
type Pos struct {
	Offset int // Byte offset in the file
	Line   int // 1-based line number
	Column int // 1-based column number (in runes, not bytes)
}

// IsZero returns true if the position is uninitialized
func (p Pos) IsZero() bool {
	return p.Offset == 0 && p.Line == 0 && p.Column == 0
}

func (p Pos) String() string {
	if p.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// lineIndex converts byte offsets into line/column positions.
type lineIndex struct {
	src   []byte
	lines []int // offsets of line starts
}

func newLineIndex(src []byte) *lineIndex {
	li := &lineIndex{src: src, lines: []int{0}}
	for i, b := range src {
		if b == '\n' {
			li.lines = append(li.lines, i+1)
		}
	}
	return li
}

func (li *lineIndex) pos(offset int) Pos {
	if offset > len(li.src) {
		offset = len(li.src)
	}
	line := sort.Search(len(li.lines), func(i int) bool { return li.lines[i] > offset }) - 1
	start := li.lines[line]
	return Pos{
		Offset: offset,
		Line:   line + 1,
		Column: utf8.RuneCount(li.src[start:offset]) + 1,
	}
}
