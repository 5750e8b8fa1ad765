package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInputPath(t *testing.T) {
	tests := []struct {
		args    []string
		want    string
		wantErr error
	}{
		{nil, "", errMissingInput},
		{[]string{"game.js"}, "", errNotWasm},
		{[]string{"target/wasm32-unknown-unknown/debug/game"}, "", errNotWasm},
		{[]string{"target/game.wasm"}, "target/game.wasm", nil},
		{[]string{"game.wasm", "extra"}, "game.wasm", nil},
	}

	for _, tt := range tests {
		got, err := inputPath(tt.args)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("inputPath(%v) error = %v, want %v", tt.args, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("inputPath(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestPrettySize(t *testing.T) {
	tests := map[int]string{
		0:               "0.00kb",
		512:             "0.50kb",
		1536:            "1.50kb",
		1024 * 1024:     "1.00mb",
		5 * 1024 * 1024: "5.00mb",
	}
	for in, want := range tests {
		if got := prettySize(in); got != want {
			t.Errorf("prettySize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"no argument", nil, 1, "expected wasm file as argument"},
		{"wrong extension", []string{"game.js"}, 1, "expected to be run with a wasm target"},
		{"help", []string{"-h"}, 0, "WASM_SERVER_RUNNER_ADDRESS"},
		{"unknown flag", []string{"-bogus"}, 1, "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stderr); code != tt.wantCode {
				t.Errorf("run() = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(stderr.String(), tt.wantOut) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantOut)
			}
		})
	}
}

func TestRun_MissingInputFile(t *testing.T) {
	t.Setenv("WASM_SERVER_RUNNER_CONFIG", t.TempDir()+"/none.yaml")
	var stderr bytes.Buffer
	if code := run(context.Background(), []string{t.TempDir() + "/missing.wasm"}, &stderr); code != 1 {
		t.Errorf("run() = %d, want 1", code)
	}
}
