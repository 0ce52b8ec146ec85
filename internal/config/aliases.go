package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// AliasConfig maps user-chosen short names to formula names, read from
// {config dir}/aliases:
//
//	py=python@3.12
//	node=node@22
type AliasConfig struct {
	Aliases map[string]string
}

// LoadAliases reads {dir}/aliases. A missing file yields an empty config.
// Malformed lines are skipped.
func LoadAliases(dir string) (*AliasConfig, error) {
	cfg := &AliasConfig{
		Aliases: make(map[string]string),
	}

	f, err := os.Open(filepath.Join(dir, "aliases"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}

		alias := strings.TrimSpace(line[:idx])
		name := strings.TrimSpace(line[idx+1:])
		if alias == "" || name == "" || strings.ContainsAny(alias, " \t/") {
			continue
		}

		cfg.Aliases[alias] = name
	}

	return cfg, scanner.Err()
}

// Resolve maps each name through the alias table, leaving unknown names as-is.
func (a *AliasConfig) Resolve(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if a != nil {
			if target, ok := a.Aliases[n]; ok {
				out[i] = target
				continue
			}
		}
		out[i] = n
	}
	return out
}
