// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an executable. Search order:
//  1. configured path (from the config file or flags), when non-empty
//  2. the environment variable envVar, when set
//  3. ./name in the working directory
//  4. name on PATH
//
// Configured and environment paths that are not executable are an error
// rather than silently skipped, so a typo does not pick up another binary.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if !isExecutable(configured) {
			return "", fmt.Errorf("configured %s %q is not an executable file", name, configured)
		}
		return configured, nil
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			if !isExecutable(envPath) {
				return "", fmt.Errorf("%s=%q is not an executable file", envVar, envPath)
			}
			return envPath, nil
		}
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable checks if path is a regular file with any execute bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
