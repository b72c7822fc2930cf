package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/nudgeloop/internal/config"
)

func TestConfigShowYAML(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"trackers:", "policies:", "threshold: 10000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShowJSON(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("config show --json failed: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := got["interventions"]; !ok {
		t.Errorf("missing interventions section: %v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("trackers:\n  visit:\n    threshold: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := runCmd(t, "config", "validate", "--config", path)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}

	out, err := runCmd(t, "config", "validate", "--config", path, "--json")
	if err == nil {
		t.Fatal("expected error with --json")
	}
	if !strings.Contains(out, `"valid": false`) {
		t.Errorf("output = %q", out)
	}
}

func TestConfigPath(t *testing.T) {
	isolateHome(t)

	out, err := runCmd(t, "config", "path", "--json")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	var got struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Exists {
		t.Error("exists = true in an empty home")
	}
	if filepath.Base(got.Path) != config.FileName {
		t.Errorf("path = %q", got.Path)
	}
}
