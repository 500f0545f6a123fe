package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// Extensions searched for a plan file, in order.
var Extensions = []string{".toml", ".yaml", ".yml", ".json"}

// DefaultCacheSize bounds the number of parsed plans kept in memory.
const DefaultCacheSize = 64

// Parse decodes and validates plan data. format is a file extension
// (".toml", ".yaml", ".yml" or ".json").
func Parse(data []byte, format string) (*Plan, error) {
	p, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decode(data []byte, format string) (*Plan, error) {
	var p Plan
	switch strings.ToLower(format) {
	case ".toml":
		if _, err := toml.Decode(string(data), &p); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}
	return &p, nil
}

// LoadFile reads and validates a plan file. A plan without an id takes
// the file's base name.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	ext := filepath.Ext(path)
	p, err := decode(data, ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), ext)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path
	return p, nil
}

// Loader finds plans by workflow id across an ordered list of directories,
// falling back to the embedded defaults. Parsed plans are cached by path
// and modification time, so edits on disk are picked up on the next load.
type Loader struct {
	dirs  []string
	cache *lru.Cache[string, *Plan]
	group singleflight.Group
}

// NewLoader creates a Loader searching dirs in order.
func NewLoader(dirs []string, cacheSize int) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Plan](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating plan cache: %w", err)
	}
	var clean []string
	for _, d := range dirs {
		if d != "" {
			clean = append(clean, d)
		}
	}
	return &Loader{dirs: clean, cache: cache}, nil
}

// Dirs returns the search directories.
func (l *Loader) Dirs() []string {
	return append([]string(nil), l.dirs...)
}

// Find returns the path of the first plan file for id.
func (l *Loader) Find(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid workflow id %q", id)
	}
	for _, dir := range l.dirs {
		for _, ext := range Extensions {
			path := filepath.Join(dir, id+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s (searched %s)", ErrNotFound, id, strings.Join(l.dirs, ", "))
}

// Load returns the plan for a workflow id.
func (l *Loader) Load(id string) (*Plan, error) {
	path, err := l.Find(id)
	if errors.Is(err, ErrNotFound) {
		if p, berr := Builtin(id); berr == nil {
			return p, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat plan: %w", err)
	}
	key := fmt.Sprintf("%s@%d", path, info.ModTime().UnixNano())
	if p, ok := l.cache.Get(key); ok {
		return p, nil
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Plan), nil
}

// List returns every workflow id available, on disk or embedded.
func (l *Loader) List() ([]string, error) {
	ids := make(map[string]bool)
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading plan directory: %w", err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if e.IsDir() || !isPlanExt(ext) {
				continue
			}
			ids[strings.TrimSuffix(e.Name(), ext)] = true
		}
	}
	builtin, err := BuiltinIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range builtin {
		ids[id] = true
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func isPlanExt(ext string) bool {
	for _, e := range Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
