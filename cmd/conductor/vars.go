package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadVarsFile reads a YAML mapping of variables.
func loadVarsFile(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vars map[string]any
	if err := yaml.NewDecoder(f).Decode(&vars); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding vars file %s: %w", path, err)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

// parseExtraVar splits a -e argument. KEY=VALUE binds a string; a value
// starting with [ or { is decoded as YAML so lists and maps can be passed.
// An argument of the form @file loads a vars file.
func parseExtraVar(arg string, into map[string]any) error {
	if file, ok := strings.CutPrefix(arg, "@"); ok {
		vars, err := loadVarsFile(file)
		if err != nil {
			return err
		}
		for k, v := range vars {
			into[k] = v
		}
		return nil
	}
	key, val, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("invalid extra var %q (want KEY=VALUE or @file)", arg)
	}
	if strings.HasPrefix(val, "[") || strings.HasPrefix(val, "{") {
		var decoded any
		if err := yaml.Unmarshal([]byte(val), &decoded); err != nil {
			return fmt.Errorf("extra var %s: %w", key, err)
		}
		into[key] = decoded
		return nil
	}
	into[key] = val
	return nil
}

// collectVars merges vars files and then -e arguments, later ones winning.
func collectVars(varsFiles, extra []string) (map[string]any, error) {
	vars := map[string]any{}
	for _, path := range varsFiles {
		fv, err := loadVarsFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fv {
			vars[k] = v
		}
	}
	for _, arg := range extra {
		if err := parseExtraVar(arg, vars); err != nil {
			return nil, err
		}
	}
	return vars, nil
}
