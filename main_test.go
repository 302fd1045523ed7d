package main

import (
	"testing"

	"rtcall/cmd"
)

func TestMainCommandStructure(t *testing.T) {
	root := cmd.Root()
	if root.Name() != "rtcall" {
		t.Errorf("Expected root command name to be 'rtcall', got '%s'", root.Name())
	}

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
		if c.RunE == nil {
			t.Errorf("Expected %s command to have an action", c.Name())
		}
	}
	for _, want := range []string{"relay", "call"} {
		if !names[want] {
			t.Errorf("Expected %s subcommand", want)
		}
	}
}
