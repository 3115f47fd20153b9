// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/config"
)

// execute runs a fresh root command with args. A hidden "inspect-config" subcommand
// captures the configuration the root command loaded.
func execute(t *testing.T, args ...string) (string, *config.Config, error) {
	t.Helper()
	root := NewRootCommand()
	var loaded *config.Config
	root.AddCommand(&cobra.Command{
		Use:    "inspect-config",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded = configFrom(cmd)
			return nil
		},
	})

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), loaded, err
}

// createTempConfig writes content to a config file in a temp dir.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	t.Run("Subcommand", func(t *testing.T) {
		out, _, err := execute(t, "version")
		require.NoError(t, err)
		assert.Equal(t, "actuator "+Version+"\n", out)
	})

	t.Run("Flag", func(t *testing.T) {
		out, _, err := execute(t, "--version")
		require.NoError(t, err)
		assert.Contains(t, out, "actuator version "+Version)
	})
}

func TestConfigLoading(t *testing.T) {
	t.Run("Config File Overrides Defaults", func(t *testing.T) {
		path := createTempConfig(t, `
logger:
  level: fatal
engine:
  click_type: tap
  stable_check_interval: 50ms
browser:
  remote_url: ws://127.0.0.1:9222/devtools/browser/abc
`)
		_, cfg, err := execute(t, "--config", path, "inspect-config")
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "tap", cfg.Engine.ClickType)
		assert.Equal(t, 50*time.Millisecond, cfg.Engine.StableCheckInterval)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser.RemoteURL)
		assert.Equal(t, 50, cfg.Engine.DocumentReadyMaxRounds, "unset keys keep their defaults")
	})

	t.Run("Environment Overrides File", func(t *testing.T) {
		path := createTempConfig(t, "engine:\n  click_type: tap\n")
		t.Setenv("ACTUATOR_ENGINE_CLICK_TYPE", "javascript")
		_, cfg, err := execute(t, "--config", path, "inspect-config")
		require.NoError(t, err)
		assert.Equal(t, "javascript", cfg.Engine.ClickType)
	})

	t.Run("Invalid Values Are Rejected", func(t *testing.T) {
		path := createTempConfig(t, "engine:\n  click_type: double\n")
		_, _, err := execute(t, "--config", path, "inspect-config")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "click_type must be one of")
	})

	t.Run("Missing Explicit File Fails", func(t *testing.T) {
		_, _, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "inspect-config")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})
}

func TestCommandValidation(t *testing.T) {
	path := createTempConfig(t, "logger:\n  level: fatal\n")

	t.Run("History Needs A Database", func(t *testing.T) {
		t.Setenv("ACTUATOR_DATABASE_URL", "")
		_, _, err := execute(t, "--config", path, "history", "login.submit")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url is not configured")
	})

	t.Run("Fields Needs A File", func(t *testing.T) {
		_, _, err := execute(t, "--config", path, "fields")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `required flag(s) "file" not set`)
	})

	t.Run("Select Needs An Option", func(t *testing.T) {
		_, _, err := execute(t, "--config", path, "select", "--css", "#year")
		assert.Equal(t, schemas.InvalidAction, schemas.CodeOf(err))
	})

	t.Run("Click Needs A Selector", func(t *testing.T) {
		_, _, err := execute(t, "--config", path, "click")
		assert.Equal(t, schemas.InvalidSelector, schemas.CodeOf(err))
	})
}

func TestTargetFlagsSelector(t *testing.T) {
	t.Run("CSS Chain Through Frames", func(t *testing.T) {
		f := targetFlags{css: []string{"iframe#pay", "#card"}, text: "^Card", nth: -1, trackingID: "pay.card"}
		sel, err := f.selector()
		require.NoError(t, err)
		assert.Equal(t, "iframe#pay >> #card inner_text(/^Card/)", sel.String())
		assert.Equal(t, "pay.card", sel.TrackingID)
	})

	t.Run("Semantic First", func(t *testing.T) {
		f := targetFlags{role: 3, objective: 7, css: []string{"input"}, visible: true, nth: 0}
		sel, err := f.selector()
		require.NoError(t, err)
		require.True(t, sel.IsSemantic())
		assert.Equal(t, int32(3), sel.Filters[0].Semantic.Role)
		assert.Equal(t, schemas.FilterNthMatch, sel.Filters[len(sel.Filters)-1].Kind)
	})

	t.Run("Raw JSON", func(t *testing.T) {
		f := targetFlags{raw: `{"filters":[{"kind":"css_selector","css":"#go"}]}`, nth: -1}
		sel, err := f.selector()
		require.NoError(t, err)
		assert.Equal(t, schemas.NewSelector("#go"), sel)
	})

	t.Run("Invalid Inputs", func(t *testing.T) {
		tests := map[string]targetFlags{
			"empty":         {nth: -1},
			"malformed":     {raw: `{"filters":`, nth: -1},
			"semantic late": {raw: `{"filters":[{"kind":"css_selector","css":"a"},{"kind":"semantic","semantic":{"role":1}}]}`, nth: -1},
		}
		for name, f := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := f.selector()
				assert.Equal(t, schemas.InvalidSelector, schemas.CodeOf(err))
			})
		}
	})
}

func TestReadFieldsFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Valid", func(t *testing.T) {
		path := filepath.Join(dir, "fields.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"fields": [
				{"value_expression": "${email}", "selector": {"filters": [{"kind": "css_selector", "css": "#email"}]}, "forced": true},
				{"value_expression": "2050", "selector": {"filters": [{"kind": "css_selector", "css": "#year"}]}, "select_strategy": "label_match"}
			],
			"values": {"email": "ada@example.com"}
		}`), 0o600))

		ff, err := readFieldsFile(path)
		require.NoError(t, err)
		require.Len(t, ff.Fields, 2)
		assert.True(t, ff.Fields[0].Forced)
		assert.Equal(t, schemas.SelectLabelMatch, ff.Fields[1].SelectStrategy)
		assert.Equal(t, "ada@example.com", ff.Values["email"])
	})

	t.Run("Invalid Selector", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"fields": [{"selector": {"filters": [{"kind": "css_selector", "css": " "}]}}]}`), 0o600))
		_, err := readFieldsFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "field 0")
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := readFieldsFile(filepath.Join(dir, "missing.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestBrowserArgs(t *testing.T) {
	tests := []struct {
		arg   string
		name  string
		value interface{}
	}{
		{"--disable-gpu", "disable-gpu", true},
		{"--window-size=1280,720", "window-size", "1280,720"},
		{" proxy-server=http://p:8080 ", "proxy-server", "http://p:8080"},
	}
	for _, tt := range tests {
		name, value := parseBrowserArg(tt.arg)
		assert.Equal(t, tt.name, name, tt.arg)
		assert.Equal(t, tt.value, value, tt.arg)
	}

	base := len(allocatorOptions(config.BrowserConfig{}))
	withArgs := allocatorOptions(config.BrowserConfig{ExecPath: "/usr/bin/chromium", Args: []string{"--a", "", "--b=1"}})
	assert.Len(t, withArgs, base+3, "exec path plus two non-empty args")
}
