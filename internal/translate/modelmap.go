package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

var (
	modelMapMu    sync.Mutex
	modelMapCache = make(map[string]modelMapEntry)
)

type modelMapEntry struct {
	mapping map[string]string
	err     error
}

// LoadModelMap reads the optional model-routing map at path. The result is
// cached per path for the process lifetime: a missing file is an empty map
// and a malformed file is a permanent error.
func LoadModelMap(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	modelMapMu.Lock()
	defer modelMapMu.Unlock()
	if entry, ok := modelMapCache[path]; ok {
		return entry.mapping, entry.err
	}

	mapping, err := readModelMap(path)
	modelMapCache[path] = modelMapEntry{mapping: mapping, err: err}
	return mapping, err
}

func readModelMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model map %s: %w", path, err)
	}

	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("model map %s must be a JSON object of strings: %w", path, err)
	}
	if mapping == nil {
		mapping = map[string]string{}
	}
	return mapping, nil
}

// ResolveModel maps a client model name to the upstream name: explicit map
// entry first, pass-through for vendor-qualified names, the default vendor
// prefix otherwise.
func ResolveModel(model string, modelMap map[string]string, vendorPrefix string) string {
	if mapped, ok := modelMap[model]; ok {
		return mapped
	}
	if strings.Contains(model, "/") {
		return model
	}
	return vendorPrefix + model
}
