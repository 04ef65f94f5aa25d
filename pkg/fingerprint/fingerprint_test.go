package fingerprint_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprove-ai/reprove/pkg/fingerprint"
)

// TestDetectorsVersion_Format pins the component order and the
// name/vX.Y.Z;... layout.
func TestDetectorsVersion_Format(t *testing.T) {
	v, err := fingerprint.DetectorsVersion()
	require.NoError(t, err)

	assert.Equal(t, "exfil/v1.2.0;content/v1.1.0;spend/v1.0.1", v)
	assert.Regexp(t, regexp.MustCompile(`^(\w+/v\d+\.\d+\.\d+;)*\w+/v\d+\.\d+\.\d+$`), v)
}

// TestEnvHash_Deterministic verifies the same fixture directory hashes
// identically across calls and looks like a sha256 hex digest.
func TestEnvHash_Deterministic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(`{"items":[]}`), 0o644))

	first, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)
	second, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), first)
}

// TestEnvHash_SensitiveToFixtureSet verifies the hash moves when a fixture
// is added or its size changes.
func TestEnvHash_SensitiveToFixtureSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	base, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.json"), []byte(`{}`), 0o644))
	withExtra, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)
	assert.NotEqual(t, base, withExtra)

	require.NoError(t, os.Remove(filepath.Join(dir, "extra.json")))
	require.NoError(t, os.WriteFile(path, []byte(`{"grown": true}`), 0o644))
	grown, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)
	assert.NotEqual(t, base, grown)
}

// TestEnvHash_SensitiveToMtime verifies a touched fixture changes the
// hash even when the bytes stay the same size.
func TestEnvHash_SensitiveToMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	require.NoError(t, os.Chtimes(path, time.Unix(1000000000, 0), time.Unix(1000000000, 0)))

	base, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)

	require.NoError(t, os.Chtimes(path, time.Unix(2000000000, 0), time.Unix(2000000000, 0)))
	touched, err := fingerprint.EnvHash(dir)
	require.NoError(t, err)
	assert.NotEqual(t, base, touched)
}

// TestEnvHash_MissingDir verifies an absent fixture directory hashes as an
// empty fixture set, same as an empty string argument.
func TestEnvHash_MissingDir(t *testing.T) {
	missing, err := fingerprint.EnvHash(filepath.Join(t.TempDir(), "nowhere"))
	require.NoError(t, err)

	none, err := fingerprint.EnvHash("")
	require.NoError(t, err)
	assert.Equal(t, none, missing)
}
