package utils

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateMediaID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "media_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateMediaID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	id2, _ := GenerateMediaID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Change content -> Change ID
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateMediaID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.mp4")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"Identical", target, target, true},
		{"Uncleaned", target, filepath.Join(dir, "sub", "..", "clip.mp4"), true},
		{"Symlink", link, target, true},
		{"Missing output", target, filepath.Join(dir, "out.mp4"), false},
		{"Other file", target, filepath.Join(dir, "link.mp4.bak"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SamePath(tt.a, tt.b); got != tt.want {
				t.Errorf("SamePath(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}

	err := MissingRequired(results)
	if err == nil {
		t.Fatal("expected error for missing required binary")
	}
	if bytes.Contains([]byte(err.Error()), []byte("Optional")) {
		t.Errorf("optional requirement should not be reported: %v", err)
	}
	if MissingRequired(results[:1]) != nil {
		t.Error("expected no error when all required binaries exist")
	}
}

func TestShowErrorIncludesChildLogs(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "true")
	cmd.Stderr.WriteString("Traceback: boom")

	var buf bytes.Buffer
	ShowError(&buf, "worker crashed", errors.New("exit status 1"), cmd)

	out := buf.String()
	for _, want := range []string{"worker crashed", "exit status 1", "Traceback: boom"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}
