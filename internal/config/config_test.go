package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("tower-a", "0xAD")))
	if err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "tower-a" || cfg.Admin.ActorID != "0xAD" || cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing admin": "project:\n  id: p\n",
		"bad base path": "project:\n  id: p\nadmin:\n  actor_id: a\nserver:\n  base_path: v0\n",
		"bad hook url":  "project:\n  id: p\nadmin:\n  actor_id: a\nwebhooks:\n  - url: ftp://x\n",
		"unknown event": "project:\n  id: p\nadmin:\n  actor_id: a\nwebhooks:\n  - url: http://x\n    events: [task.done]\n",
	}
	for name, yml := range cases {
		if _, err := FromYAML([]byte(yml)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	cfg, err := FromYAML([]byte("project:\n  id: p\nadmin:\n  actor_id: a\nwebhooks:\n  - url: https://obs.example/h\n    events: [milestone.approved]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Webhooks[0].TimeoutSeconds != 5 || cfg.Project.Name != "p" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestWriteDefaultDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	path, created, err := WriteDefault(dir, "p", "a")
	if err != nil || !created {
		t.Fatalf("write default: %v %v", created, err)
	}
	if err := os.WriteFile(path, []byte("project:\n  id: custom\nadmin:\n  actor_id: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, created, err := WriteDefault(dir, "p", "a"); err != nil || created {
		t.Fatalf("second write should be a no-op: %v %v", created, err)
	}
	cfg, err := Load(dir)
	if err != nil || cfg.Project.ID != "custom" {
		t.Fatalf("load: %+v %v", cfg, err)
	}
	if _, err := Load(filepath.Join(dir, "missing")); err == nil || !strings.Contains(err.Error(), "bl init") {
		t.Fatalf("expected init hint, got %v", err)
	}
}
