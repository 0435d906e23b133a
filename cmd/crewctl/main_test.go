package main

import (
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	args := parseArgs([]string{"--id", "a1", "--priority", "5", "ignored", "--deps", "t1,t2"})
	want := map[string]string{"id": "a1", "priority": "5", "deps": "t1,t2"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("parseArgs = %v, want %v", args, want)
	}

	// Trailing flag without a value is dropped.
	args = parseArgs([]string{"--id"})
	if len(args) != 0 {
		t.Errorf("expected empty map, got %v", args)
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ", []string{"a", "b"}},
		{",,", []string{}},
	}
	for _, c := range cases {
		got := splitList(c.in)
		if len(got) == 0 && len(c.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
