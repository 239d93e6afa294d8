package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycal/internal/config"
	"daycal/internal/identity"
	"daycal/internal/store"
	"daycal/internal/web"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "daycal", cmd.Use)
	assert.Contains(t, cmd.Long, "one claimed day")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "token", "month", "roster", "claim", "clear", "profile", "watch"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NotNil(t, serveCmd.Flags().Lookup("listen"))
	require.NotNil(t, serveCmd.Flags().Lookup("in-memory"))
}

// execute runs the CLI with a private config file and returns stdout.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	_, err := execute(t, cfgPath, "--format", "xml", "token", "--sub", "u1")
	assert.ErrorContains(t, err, "invalid format")
}

func TestTokenCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, cfgPath, "token", "--sub", "u1", "--name", "Ada", "--ttl", "1h")
	require.NoError(t, err)
	tok := strings.TrimSpace(out)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	v, err := identity.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	require.NoError(t, err)
	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada"}, id)

	_, err = execute(t, cfgPath, "token")
	assert.ErrorContains(t, err, "--sub")
}

func TestClientCommandsAgainstServer(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()

	st, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	v, err := identity.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	require.NoError(t, err)
	srv := httptest.NewServer(web.NewServer(cfg, st, v).Handler())
	t.Cleanup(srv.Close)

	tok, err := v.Issue(identity.Identity{OwnerID: "u1"}, time.Hour)
	require.NoError(t, err)
	cfg.Client = config.ClientConfig{
		Server:    srv.URL,
		Token:     tok,
		PrefsPath: filepath.Join(dir, "prefs.yaml"),
	}
	require.NoError(t, config.Save(cfgPath, cfg))

	// The token carries no name, so the first claim needs one.
	_, err = execute(t, cfgPath, "claim", "2025-06-10")
	assert.ErrorContains(t, err, "--name")

	out, err := execute(t, cfgPath, "claim", "2025-06-10", "--name", "Ada")
	require.NoError(t, err)
	assert.Contains(t, out, "June 2025")
	assert.Contains(t, out, "10*")
	assert.Contains(t, out, "your day: 2025-06-10")

	_, err = os.Stat(filepath.Join(dir, "prefs.yaml"))
	require.NoError(t, err, "profile is saved locally")

	out, err = execute(t, cfgPath, "roster")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-06-10")
	assert.Contains(t, out, "Ada")

	out, err = execute(t, cfgPath, "roster", "--ics")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada")

	out, err = execute(t, cfgPath, "profile", "--name", "Ada L.")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada L.")

	out, err = execute(t, cfgPath, "profile", "--avatar", "https://example.com/ada.png")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada L.")
	assert.Contains(t, out, "https://example.com/ada.png")

	out, err = execute(t, cfgPath, "month", "2025-06")
	require.NoError(t, err)
	assert.Contains(t, out, "10*")

	out, err = execute(t, cfgPath, "--format", "json", "roster")
	require.NoError(t, err)
	assert.Contains(t, out, `"display_name": "Ada L."`)

	out, err = execute(t, cfgPath, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "you have not claimed a day")
}
