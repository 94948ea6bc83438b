package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNextFixedRate(t *testing.T) {
	out, err := runCmd(t, "next", "rate:5s", "-n", "3", "--zone", "UTC", "--from", "2024-01-15T10:00:00Z")
	if err != nil {
		t.Fatalf("next: %v\n%s", err, out)
	}
	for _, want := range []string{
		"schedule: rate:5s",
		"2024-01-15T10:00:00Z",
		"2024-01-15T10:00:05Z",
		"2024-01-15T10:00:10Z",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNextFixedDelayWithRunFor(t *testing.T) {
	out, err := runCmd(t, "next", "delay:1s+1s", "-n", "2", "--zone", "UTC", "--from", "2024-01-15T10:00:00Z", "--run-for", "2s")
	if err != nil {
		t.Fatalf("next: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2024-01-15T10:00:01Z") || !strings.Contains(out, "2024-01-15T10:00:04Z") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestNextCron(t *testing.T) {
	out, err := runCmd(t, "next", "0 15 10 15 * ?", "-n", "2", "--zone", "UTC", "--from", "2024-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("next: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2024-01-15T10:15:00Z") || !strings.Contains(out, "2024-02-15T10:15:00Z") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestNextErrors(t *testing.T) {
	cases := [][]string{
		{"next"},
		{"next", "rate:0s"},
		{"next", "cron:61 * * * *"},
		{"next", "rate:5s", "--zone", "Mars/Olympus"},
		{"next", "rate:5s", "--from", "yesterday"},
	}
	for _, args := range cases {
		if _, err := runCmd(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("scheduler:\n  timezone: UTC\npool:\n  workers: 3\ndemo:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := runCmd(t, "check", "--config", good)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (timezone UTC, workers 3") {
		t.Fatalf("unexpected output: %s", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("pool:\n  overload: drop\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, "check", "--config", bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := runCmd(t, "check", "--config", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
