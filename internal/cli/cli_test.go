package cli_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/effect-quickstart/internal/cli"
	"github.com/e7canasta/effect-quickstart/internal/config"
	"github.com/e7canasta/effect-quickstart/internal/photo"
)

func writeConfig(t *testing.T, resources string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("resources:\n  dir: %s\nengine:\n  client_token: demo-token\n", resources)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.ClientTokenEnv, "")
	cmd := cli.NewRootCommand()
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEffectsCommand(t *testing.T) {
	cfg := writeConfig(t, filepath.Join(t.TempDir(), "res"))
	out, err := run(t, "--config", cfg, "effects")
	require.NoError(t, err)
	assert.Equal(t, "effects/Afro\neffects/Mono\n", out)
}

func TestProvisionCommand(t *testing.T) {
	res := filepath.Join(t.TempDir(), "res")
	cfg := writeConfig(t, res)

	out, err := run(t, "--config", cfg, "provision")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "provisioned "+res))

	out, err = run(t, "--config", cfg, "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "already provisioned")
}

func TestProcessCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "selfie.png")
	require.NoError(t, photo.Save(input, image.NewRGBA(image.Rect(0, 0, 100, 100))))
	cfg := writeConfig(t, filepath.Join(dir, "res"))

	out, err := run(t, "--config", cfg, "process", input, "--effect", "effects/Mono", "--no-warmup")
	require.NoError(t, err)
	assert.Contains(t, out, "100x100")
	assert.FileExists(t, filepath.Join(dir, "selfie_fx.png"))
}

func TestProcessCommandRejectsBadEngine(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, filepath.Join(dir, "res"))
	_, err := run(t, "--config", cfg, "process", filepath.Join(dir, "x.png"), "--engine", "gpu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.kind")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "effects")
	require.Error(t, err)
}
