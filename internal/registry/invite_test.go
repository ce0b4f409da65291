package registry

import (
	"strings"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	for _, n := range []int{1, 5, 8} {
		code, err := GenerateCode(n)
		if err != nil {
			t.Fatalf("unexpected err %v", err)
		}
		if len(code) != n {
			t.Fatalf("want length %d, got %q", n, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeCharset, c) {
				t.Fatalf("unexpected character %q in %q", c, code)
			}
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  ab1c2 \n"); got != "AB1C2" {
		t.Fatalf("got %q", got)
	}
}
