package web

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestTruncateBytesRuneBoundary 截断不得落在多字节 rune 中间
func TestTruncateBytesRuneBoundary(t *testing.T) {
	s := "磁盘空间清理手册" // 8 个三字节字符，共 24 字节

	for max := 0; max <= len(s); max++ {
		got := truncateBytes(s, max)
		if len(got) > max {
			t.Fatalf("max=%d: result %d bytes exceeds cap", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("max=%d: truncated string is invalid UTF-8: %q", max, got)
		}
		if !strings.HasPrefix(s, got) {
			t.Fatalf("max=%d: result %q is not a prefix of the input", max, got)
		}
	}

	if got := truncateBytes("ascii only", 100); got != "ascii only" {
		t.Fatalf("short input must pass through untouched, got %q", got)
	}
	if got := truncateBytes("ascii only", 5); got != "ascii" {
		t.Fatalf("ascii truncation should cut exactly at the cap, got %q", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	in := "  line one\n\n\tline   two  "
	if got := collapseWhitespace(in); got != "line one line two" {
		t.Fatalf("unexpected collapse result %q", got)
	}
}
