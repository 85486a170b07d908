package main

import (
	"strings"
	"testing"
)

func TestReadLineStripsTerminator(t *testing.T) {
	cases := map[string]string{
		"secret99\n":         "secret99",
		"secret99\r\nmore\n": "secret99",
		"no-newline":         "no-newline",
		"":                   "",
	}
	for in, want := range cases {
		got, err := readLine(strings.NewReader(in))
		if err != nil {
			t.Fatalf("readLine(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("readLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		if seen[c.Name()] {
			t.Fatalf("duplicate command %q", c.Name())
		}
		seen[c.Name()] = true
	}
	for _, name := range []string{"migrate", "export", "stock", "useradd"} {
		if !seen[name] {
			t.Fatalf("missing command %q", name)
		}
	}
}
