package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix for environment overrides of the engine file,
// e.g. CALLCENTER_AMOUNTOFOPERATORS=12
const EnvPrefix = "CALLCENTER"

// envFields maps override suffixes to the document field they replace
var envFields = []struct {
	suffix string
	field  func(*Raw) **int
}{
	{"AMOUNTOFOPERATORS", func(r *Raw) **int { return &r.AmountOfOperators }},
	{"SIZEOFQUEUE", func(r *Raw) **int { return &r.SizeOfQueue }},
	{"RMIN", func(r *Raw) **int { return &r.RMin }},
	{"RMAX", func(r *Raw) **int { return &r.RMax }},
}

// Load decodes path into target, as JSON when the extension is .json and
// as YAML otherwise.
func Load(path string, target interface{}) error {
	if isJSON(path) {
		return LoadJSON(path, target)
	}
	return LoadYAML(path, target)
}

// LoadWithEnv reads an engine document and then applies environment
// overrides, so a variable can also supply a field the file omits.
func LoadWithEnv(path string, prefix string, raw *Raw) error {
	if err := Load(path, raw); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return ApplyEnvOverrides(prefix, raw)
}

// ApplyEnvOverrides sets every field of raw for which PREFIX_FIELD is set
// to a non-empty value. An empty prefix means EnvPrefix.
func ApplyEnvOverrides(prefix string, raw *Raw) error {
	if prefix == "" {
		prefix = EnvPrefix
	}
	for _, f := range envFields {
		key := prefix + "_" + f.suffix
		s := strings.TrimSpace(os.Getenv(key))
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("env %s=%q: not an integer", key, s)
		}
		*f.field(raw) = &n
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
