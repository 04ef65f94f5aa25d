// Package fingerprint computes the detectors-version string and the
// environment hash attached to every verdict. Two verdicts carrying the
// same fingerprint for the same seed and transcript are expected to yield
// byte-identical regression packs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/reprove-ai/reprove/pkg/detector"
)

// DetectorsVersion returns the concatenated component versions, e.g.
// "exfil/v1.2.0;content/v1.1.0;spend/v1.0.1". Component versions are
// validated as semver so a malformed constant fails loudly at startup.
func DetectorsVersion() (string, error) {
	components := []struct {
		name    string
		version string
	}{
		{"exfil", detector.ExfilVersion},
		{"content", detector.ContentVersion},
		{"spend", detector.SpendVersion},
	}

	parts := make([]string, 0, len(components))
	for _, c := range components {
		if _, err := semver.NewVersion(c.version); err != nil {
			return "", fmt.Errorf("invalid %s detector version %q: %w", c.name, c.version, err)
		}
		parts = append(parts, fmt.Sprintf("%s/v%s", c.name, c.version))
	}
	return strings.Join(parts, ";"), nil
}

type fileDigest struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

type envDoc struct {
	Runtime  string       `json:"runtime"`
	Module   string       `json:"module"`
	Version  string       `json:"version"`
	Fixtures []fileDigest `json:"fixtures"`
}

// EnvHash hashes the runtime version, module identity, and a per-file
// name/size/mtime digest of the fixture directory. A missing fixture
// directory hashes as an empty fixture set rather than failing: audits of
// environments without local fixtures are still meaningful.
func EnvHash(fixtureDir string) (string, error) {
	doc := envDoc{
		Runtime:  runtime.Version(),
		Module:   "github.com/reprove-ai/reprove",
		Version:  moduleVersion(),
		Fixtures: []fileDigest{},
	}

	if fixtureDir != "" {
		digests, err := digestDir(fixtureDir)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("digest fixture dir %q: %w", fixtureDir, err)
		}
		if digests != nil {
			doc.Fixtures = digests
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize env doc: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func moduleVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

func digestDir(dir string) ([]fileDigest, error) {
	var digests []fileDigest
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		digests = append(digests, fileDigest{
			Name:  filepath.ToSlash(rel),
			Size:  info.Size(),
			Mtime: info.ModTime().UTC().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i].Name < digests[j].Name })
	return digests, nil
}
