// The decision package assigns a routing decision to every observed request.
// Decisions come from a hot-reloadable YAML policy of blocked IPs, blocked user agents and
// flagged endpoints. Without a policy every request is allowed.
package decision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type Config struct {
	// PolicyPath is the path of the YAML policy file. The file is reloaded whenever it changes.
	// An empty path disables the policy, meaning every request is allowed. Default is "".
	// A missing file allows every request until it's created in its (existing) directory.
	PolicyPath string `env:"DECISION_POLICY_PATH"`
}

func NewConfig() Config {
	return Config{}
}

func (c Config) Validate() error {
	if c.PolicyPath == "" {
		return nil
	}

	info, err := os.Stat(c.PolicyPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		dir, err := os.Stat(filepath.Dir(c.PolicyPath))
		if err != nil || !dir.IsDir() {
			return fmt.Errorf("policy directory not found: %s", filepath.Dir(c.PolicyPath))
		}
		return nil

	case err != nil:
		return fmt.Errorf("failed to stat policy file: %w", err)

	case info.IsDir():
		return fmt.Errorf("policy path is a directory: %s", c.PolicyPath)
	}
	return nil
}

func (c Config) String() string {
	path := c.PolicyPath
	if path == "" {
		path = "none (allow all)"
	}
	return fmt.Sprintf("Decision:\n\tPolicy Path: %s\n", path)
}
