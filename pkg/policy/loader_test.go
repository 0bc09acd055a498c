package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const tmpScriptsRego = `# Scripts must not run from /tmp
# severity: error
package site.policies.tmp

import rego.v1

deny contains "script in /tmp" if {
	some action in input.actions
	startswith(action.path, "/tmp/")
}`

func TestLoadFile_Rego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-tmp-scripts.rego")
	write(t, path, tmpScriptsRego)

	p, err := NewLoader(zerolog.Nop()).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if p.Name != "no-tmp-scripts" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Description != "Scripts must not run from /tmp" {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Severity = %q", p.Severity)
	}
	if !p.Enabled || p.Source != path || p.Rego != tmpScriptsRego {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestParseRego_Header(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		desc     string
		severity Severity
		enabled  bool
		wantErr  bool
	}{
		{name: "no header", content: "package x\n", severity: SeverityWarning, enabled: true},
		{name: "multi line", content: "# Deny telnet\n# on every host\n\npackage x\n", desc: "Deny telnet on every host", severity: SeverityWarning, enabled: true},
		{name: "disabled", content: "# Draft rule\n# disabled\npackage x\n", desc: "Draft rule", severity: SeverityWarning},
		{name: "critical", content: "# severity: critical\npackage x\n", severity: SeverityCritical, enabled: true},
		{name: "bad severity", content: "# severity: fatal\npackage x\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseRego("x.rego", []byte(tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRego() error = %v", err)
			}
			if p.Description != tt.desc || p.Severity != tt.severity || p.Enabled != tt.enabled {
				t.Errorf("got desc=%q severity=%q enabled=%v", p.Description, p.Severity, p.Enabled)
			}
		})
	}
}

func TestLoadFile_Manifest(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "rules", "telnet.rego"), "package site.telnet\n")
	write(t, filepath.Join(dir, "no-telnet.toml"), `
name = "no-telnet"
description = "telnet is not installed anywhere"
severity = "critical"
rego_file = "rules/telnet.rego"
`)
	write(t, filepath.Join(dir, "inline.toml"), `
enabled = false
rego = "package site.inline"
`)

	loader := NewLoader(zerolog.Nop())

	p, err := loader.LoadFile(filepath.Join(dir, "no-telnet.toml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if p.Name != "no-telnet" || p.Severity != SeverityCritical || !p.Enabled {
		t.Errorf("unexpected policy %+v", p)
	}
	if p.Rego != "package site.telnet\n" {
		t.Errorf("Rego = %q", p.Rego)
	}

	p, err = loader.LoadFile(filepath.Join(dir, "inline.toml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if p.Name != "inline" || p.Enabled || p.Severity != SeverityWarning {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestLoadFile_ManifestErrors(t *testing.T) {
	tests := map[string]string{
		"no rego":      `name = "x"`,
		"both":         "rego = \"package x\"\nrego_file = \"x.rego\"\n",
		"unknown key":  "rego = \"package x\"\nowner = \"ops\"\n",
		"missing file": `rego_file = "absent.rego"`,
		"bad severity": "rego = \"package x\"\nseverity = \"fatal\"\n",
		"invalid toml": "rego = ",
		"wrong type":   "rego = \"package x\"\nenabled = \"yes\"\n",
	}

	loader := NewLoader(zerolog.Nop())
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.toml")
			write(t, path, content)
			if _, err := loader.LoadFile(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.rego"), "package b\n")
	write(t, filepath.Join(dir, "a.rego"), "package a\n")
	write(t, filepath.Join(dir, "nested", "c.rego"), "package c\n")
	write(t, filepath.Join(dir, "m.toml"), `rego_file = "m.rego"`)
	write(t, filepath.Join(dir, "m.rego"), "package m\n")
	write(t, filepath.Join(dir, ".git", "hook.rego"), "package hidden\n")
	write(t, filepath.Join(dir, "README.md"), "ignored")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	// m.rego is loaded through its manifest only
	if got := strings.Join(names, ","); got != "a,b,m,c" {
		t.Errorf("policies = %s, want a,b,m,c", got)
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "one", "dup.rego"), "package one\n")
	write(t, filepath.Join(dir, "two", "dup.rego"), "package two\n")
	loader := NewLoader(zerolog.Nop())

	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "one"), filepath.Join(dir, "two")})
	if err == nil || !strings.Contains(err.Error(), "dup") {
		t.Errorf("expected duplicate name error, got %v", err)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}

	unsupported := filepath.Join(dir, "policy.yaml")
	write(t, unsupported, "x: 1")
	if _, err := loader.LoadFile(unsupported); err == nil {
		t.Error("expected error for unsupported file type")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.LoadFromPaths(ctx, []string{filepath.Join(dir, "one")}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
