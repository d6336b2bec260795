package actions

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Installation describes an existing installer footprint in a target.
type Installation struct {
	Present bool
	Version string
	Config  map[string]interface{}
}

func configPath(installDir string) string {
	return path.Join(installDir, "bmm", "config.yaml")
}

// DetectInstalled inspects installDir under target. The version comes from
// the module config (bmad_version or version), falling back to package.json.
func DetectInstalled(target, installDir string) (Installation, error) {
	var inst Installation

	dir := filepath.Join(target, filepath.FromSlash(installDir))
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return inst, nil
		}
		return inst, err
	}
	inst.Present = info.IsDir()
	if !inst.Present {
		return inst, nil
	}

	data, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(configPath(installDir))))
	switch {
	case err == nil:
		var cfg map[string]interface{}
		if yaml.Unmarshal(data, &cfg) == nil && cfg != nil {
			inst.Config = cfg
			for _, key := range []string{"bmad_version", "version"} {
				if v, ok := cfg[key]; ok && v != nil {
					inst.Version = strings.TrimSpace(toString(v))
					break
				}
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return inst, err
	}

	if inst.Version == "" {
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		if err == nil {
			var pkg struct {
				Version string `json:"version"`
			}
			if json.Unmarshal(data, &pkg) == nil {
				inst.Version = pkg.Version
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return inst, err
		}
	}

	return inst, nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer
// than b. "latest" is newer than any concrete version.
func CompareVersions(a, b string) int {
	aLatest := strings.EqualFold(a, "latest")
	bLatest := strings.EqualFold(b, "latest")
	switch {
	case aLatest && bLatest:
		return 0
	case aLatest:
		return 1
	case bLatest:
		return -1
	}

	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareNumeric(a, b)
}

var digits = regexp.MustCompile(`\d+`)

// compareNumeric compares the numeric runs of two version strings.
func compareNumeric(a, b string) int {
	pa := digits.FindAllString(a, -1)
	pb := digits.FindAllString(b, -1)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			y, _ = strconv.Atoi(pb[i])
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}
