// Package registry maps model handles to their configuration. Models are
// described by YAML files in the models directory; bare .gguf files without
// a YAML entry are registered under their filename.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"llmd/internal/common/fsutil"
	"llmd/pkg/types"
)

// DefaultEngine serves models whose config names no engine.
const DefaultEngine = "llama-cpp"

// ModelConfig is one model YAML file. Keys without a dedicated field are
// kept in Params and forwarded to the worker.
type ModelConfig struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Engine    string         `yaml:"engine"`
	ModelPath string         `yaml:"model_path"`
	Files     []string       `yaml:"files"`
	ModelType string         `yaml:"model_type"`
	Params    map[string]any `yaml:",inline"`
}

// Path returns the model file: model_path, else the first entry of files.
func (m ModelConfig) Path() string {
	if m.ModelPath != "" {
		return m.ModelPath
	}
	if len(m.Files) > 0 {
		return m.Files[0]
	}
	return ""
}

// Summary converts the config to its wire form.
func (m ModelConfig) Summary() types.Model {
	return types.Model{ID: m.ID, Name: m.Name, Engine: m.Engine, Path: m.Path(), ModelType: m.ModelType}
}

// Registry is a concurrency-safe view of a models directory.
type Registry struct {
	dir string

	mu     sync.RWMutex
	models map[string]ModelConfig
}

// LoadDir scans dir. A missing directory yields an empty registry.
func LoadDir(dir string) (*Registry, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	r := &Registry{dir: abs, models: map[string]ModelConfig{}}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the absolute models directory.
func (r *Registry) Dir() string { return r.dir }

// Reload rescans the directory and replaces the registry contents.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.mu.Lock()
			r.models = map[string]ModelConfig{}
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read dir: %w", err)
	}
	models := map[string]ModelConfig{}
	referenced := map[string]bool{}
	var ggufs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml":
			mc, err := r.readConfig(filepath.Join(r.dir, name))
			if err != nil {
				return err
			}
			if _, dup := models[mc.ID]; dup {
				return fmt.Errorf("duplicate model id %q in %s", mc.ID, name)
			}
			models[mc.ID] = mc
			referenced[mc.Path()] = true
		case ".gguf":
			ggufs = append(ggufs, name)
		}
	}
	for _, name := range ggufs {
		p := filepath.Join(r.dir, name)
		if _, ok := models[name]; ok || referenced[p] {
			continue
		}
		models[name] = ModelConfig{ID: name, Name: name, Engine: DefaultEngine, ModelPath: p}
	}
	r.mu.Lock()
	r.models = models
	r.mu.Unlock()
	return nil
}

func (r *Registry) readConfig(path string) (ModelConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	var mc ModelConfig
	if err := yaml.Unmarshal(b, &mc); err != nil {
		return ModelConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if mc.ID == "" {
		mc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if mc.Name == "" {
		mc.Name = mc.ID
	}
	if mc.Engine == "" {
		mc.Engine = DefaultEngine
	}
	if p := mc.ModelPath; p != "" && !filepath.IsAbs(p) {
		mc.ModelPath = filepath.Join(r.dir, p)
	}
	for i, f := range mc.Files {
		if !filepath.IsAbs(f) {
			mc.Files[i] = filepath.Join(r.dir, f)
		}
	}
	return mc, nil
}

// Lookup returns the config registered under id.
func (r *Registry) Lookup(id string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mc, ok := r.models[id]
	return mc, ok
}

// List returns every model sorted by id.
func (r *Registry) List() []ModelConfig {
	r.mu.RLock()
	out := make([]ModelConfig, 0, len(r.models))
	for _, mc := range r.models {
		out = append(out, mc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ModelParams flattens the config of id into worker parameters: the extra
// keys plus model_path, model_type and engine.
func (r *Registry) ModelParams(id string) (map[string]any, bool) {
	mc, ok := r.Lookup(id)
	if !ok {
		return nil, false
	}
	params := make(map[string]any, len(mc.Params)+3)
	for k, v := range mc.Params {
		params[k] = v
	}
	if p := mc.Path(); p != "" {
		params["model_path"] = p
	}
	if mc.ModelType != "" {
		params["model_type"] = mc.ModelType
	}
	params["engine"] = mc.Engine
	return params, true
}
