package deploys

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type appsFile struct {
	Apps []string `json:"apps"`
}

// LoadApps reads the {"apps": [...]} deployment config at path. Names are
// returned in file order with duplicates removed.
func LoadApps(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deploys: read config: %w", err)
	}
	var f appsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("deploys: parse config: %w", err)
	}

	seen := make(map[string]bool, len(f.Apps))
	var apps []string
	for i, a := range f.Apps {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, fmt.Errorf("deploys: apps[%d] is empty", i)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		apps = append(apps, a)
	}
	if len(apps) == 0 {
		return nil, fmt.Errorf("deploys: %s lists no apps", path)
	}
	return apps, nil
}
