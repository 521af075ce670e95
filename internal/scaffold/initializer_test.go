package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dyluth/gambit/internal/config"
	"gopkg.in/yaml.v3"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		setupFunc func(string)
		wantErr   bool
	}{
		{
			name:      "fresh initialization",
			setupFunc: func(dir string) {},
		},
		{
			name:  "force replaces existing file",
			force: true,
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644)
			},
		},
		{
			name: "existing file without force",
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setupFunc(dir)

			var out bytes.Buffer
			path, err := Initialize(dir, "tabletop", tt.force, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			content, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("failed to read %s: %v", path, err)
			}
			var raw map[string]any
			if err := yaml.Unmarshal(content, &raw); err != nil {
				t.Fatalf("created file is not valid YAML: %v", err)
			}
			if raw["namespace"] != "tabletop" {
				t.Errorf("namespace = %v, want tabletop", raw["namespace"])
			}

			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("created file does not load: %v", err)
			}
			if cfg.Rules.SpellDurations["fireball"] != 3 {
				t.Errorf("fireball duration = %d, want 3", cfg.Rules.SpellDurations["fireball"])
			}
			if !cfg.Broadcast.Redis {
				t.Error("expected redis broadcast to be enabled")
			}

			if tt.force && !strings.Contains(out.String(), "Removing existing") {
				t.Error("expected force to announce the removal")
			}
		})
	}
}

func TestInitialize_RejectsBadNamespace(t *testing.T) {
	for _, ns := range []string{"", "Upper", "has space", "-leading"} {
		if _, err := Initialize(t.TempDir(), ns, false, &bytes.Buffer{}); err == nil {
			t.Errorf("namespace %q: expected error", ns)
		}
	}
}

func TestPrintSuccess(t *testing.T) {
	var out bytes.Buffer
	PrintSuccess(&out, "/tmp/x/gambit.yml")
	if !strings.Contains(out.String(), "GAMBIT_CONFIG=/tmp/x/gambit.yml") {
		t.Errorf("missing start instructions: %s", out.String())
	}
}
