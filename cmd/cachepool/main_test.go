package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/distcache/cachepool/lib/stubserver"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.HasPrefix(stdout.String(), "cachepool version ") {
		t.Errorf("output = %q", stdout.String())
	}
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"frobnicate"}, 2},
		{"bad flag", []string{"-nope"}, 2},
		{"probe with zero count", []string{"probe", "-n", "0"}, 2},
		{"init without path", []string{"init"}, 2},
		{"serve with bad versions", []string{"serve", "-versions", "x"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.want {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.want, stderr.String())
			}
		})
	}
}

func TestRun_Probe(t *testing.T) {
	s, err := stubserver.Start(stubserver.Config{Versions: negotiation.NewVersionSet(1, 2)})
	if err != nil {
		t.Fatalf("stubserver.Start failed: %v", err)
	}
	defer s.Close()

	var stdout, stderr bytes.Buffer
	args := []string{"-host", s.Host(), "-port", strconv.Itoa(s.Port()), "probe", "-n", "2", "-json"}
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr.String())
	}

	var report probeReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout.String())
	}
	if len(report.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(report.Results))
	}
	seen := map[uint64]bool{}
	for _, r := range report.Results {
		if r.Error != "" {
			t.Errorf("probe error: %s", r.Error)
		}
		if r.Version != 2 {
			t.Errorf("version = %d, want 2", r.Version)
		}
		seen[r.Conn] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 distinct connections, got %d", len(seen))
	}
	if report.Stats.NumInUse != 2 {
		t.Errorf("in use at report time = %d, want 2", report.Stats.NumInUse)
	}
}

func TestRun_ProbeUnreachable(t *testing.T) {
	s, err := stubserver.Start(stubserver.Config{Versions: negotiation.NewVersionSet(7)})
	if err != nil {
		t.Fatalf("stubserver.Start failed: %v", err)
	}
	defer s.Close()

	var stdout, stderr bytes.Buffer
	args := []string{"-host", s.Host(), "-port", strconv.Itoa(s.Port()), "probe"}
	if code := run(args, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Server unreachable") {
		t.Errorf("stderr should report the server as unreachable: %s", stderr.String())
	}
	if !strings.Contains(stdout.String(), "Address:") {
		t.Errorf("report should still be printed: %s", stdout.String())
	}
}

func TestRun_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"init", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if code := run([]string{"init", path}, &stdout, &stderr); code != 1 {
		t.Errorf("second init exit code = %d, want 1", code)
	}

	// The written file loads and drives flag overrides.
	opts := globalOptions{configPath: path, host: "cache.internal", caFile: "/etc/ca.pem"}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Cache.Host != "cache.internal" || !cfg.TLS.Enabled || cfg.TLS.CAFile != "/etc/ca.pem" {
		t.Errorf("overrides not applied: %+v %+v", cfg.Cache, cfg.TLS)
	}
}

func TestParseVersions(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "{1}", false},
		{"1, 3,2", "{3,2,1}", false},
		{"", "", true},
		{"0", "", true},
		{"a", "", true},
	}
	for _, tt := range tests {
		got, err := parseVersions(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersions(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("parseVersions(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}
