package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a YAML document from path into target
func LoadYAML(path string, target interface{}) error {
	return decodeFile(path, target, yaml.Unmarshal)
}

// LoadJSON decodes a JSON document from path into target
func LoadJSON(path string, target interface{}) error {
	return decodeFile(path, target, json.Unmarshal)
}

func decodeFile(path string, target interface{}, unmarshal func([]byte, interface{}) error) error {
	// #nosec G304 -- the config path comes from the operator's command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Save writes v to path, as indented JSON for .json files and YAML otherwise.
// The file is written next to path and renamed into place so a watcher never
// reads a half-written document.
func Save(path string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
