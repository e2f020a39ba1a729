package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name" toml:"name"`
	Limit int    `yaml:"limit" toml:"limit"`
}

func (s *sample) Validate() error {
	if s.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := write(t, "c.yaml", "name: ${SAMPLE_NAME}\nlimit: 5\n")

	var s sample
	require.NoError(t, Load(p, &s))
	assert.Equal(t, sample{Name: "from-env", Limit: 5}, s)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "toml-env")
	p := write(t, "c.toml", "name = \"$SAMPLE_NAME\"\nlimit = 7\n")

	var s sample
	require.NoError(t, Load(p, &s))
	assert.Equal(t, sample{Name: "toml-env", Limit: 7}, s)
}

func TestLoad_Errors(t *testing.T) {
	var s sample
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.yaml"), &s))
	assert.Error(t, Load(write(t, "bad.toml", "name = [\n"), &s))

	err := Load(write(t, "neg.yaml", "limit: -1\n"), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadIfExists(t *testing.T) {
	s := sample{Name: "default", Limit: 1}
	require.NoError(t, LoadIfExists(filepath.Join(t.TempDir(), "none.yaml"), &s))
	assert.Equal(t, "default", s.Name)

	require.NoError(t, LoadIfExists(write(t, "c.yaml", "limit: 3\n"), &s))
	assert.Equal(t, sample{Name: "default", Limit: 3}, s)

	bad := sample{Limit: -2}
	assert.Error(t, LoadIfExists("", &bad))
}
