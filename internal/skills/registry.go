// Package skills implements procedural memory as a static registry of
// invocable skills. Skill handlers are compiled in; a YAML manifest selects
// which handlers are exposed and attaches a JSON Schema to each one's
// parameters. Skill code is never stored at runtime.
package skills

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownSkill means no registered skill has the requested name.
	ErrUnknownSkill = errors.New("unknown skill")
	// ErrInvalidParams means the invocation parameters failed schema validation.
	ErrInvalidParams = errors.New("invalid skill parameters")
	// ErrSkillsImmutable means a caller tried to store skill code at runtime.
	ErrSkillsImmutable = errors.New("skills are registered at build time and cannot be stored")
)

// Handler executes a skill with validated parameters.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Skill is one manifest entry bound to a compiled-in handler.
type Skill struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Handler     string         `yaml:"handler"`
	ParamSchema map[string]any `yaml:"params_schema"`
}

type boundSkill struct {
	skill   Skill
	handler Handler
	schema  *gojsonschema.Schema
}

// Registry holds the available skills. Handlers are registered in code;
// LoadManifest binds them to manifest entries.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	skills   map[string]boundSkill
	logger   *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		skills:   make(map[string]boundSkill),
		logger:   logger,
	}
}

// RegisterHandler makes a compiled-in handler available to manifest entries.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// LoadManifest reads the YAML manifest at path and rebinds the skill set.
// Entries naming an unregistered handler are skipped with a warning so one
// bad entry does not take down the rest.
func (r *Registry) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read skills manifest: %w", err)
	}

	var manifest struct {
		Skills []Skill `yaml:"skills"`
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse skills manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bound := make(map[string]boundSkill, len(manifest.Skills))
	for _, sk := range manifest.Skills {
		h, ok := r.handlers[sk.Handler]
		if !ok {
			r.logger.Warn("skill manifest names unregistered handler",
				zap.String("skill", sk.Name), zap.String("handler", sk.Handler))
			continue
		}
		var schema *gojsonschema.Schema
		if sk.ParamSchema != nil {
			schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(sk.ParamSchema))
			if err != nil {
				r.logger.Warn("skill has invalid parameter schema",
					zap.String("skill", sk.Name), zap.Error(err))
				continue
			}
		}
		bound[sk.Name] = boundSkill{skill: sk, handler: h, schema: schema}
	}
	r.skills = bound
	r.logger.Info("skills manifest loaded",
		zap.String("path", path), zap.Int("skills", len(bound)))
	return nil
}

// Invoke validates params against the skill's schema and runs its handler.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	r.mu.RLock()
	bs, ok := r.skills[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSkill, name)
	}

	if bs.schema != nil {
		if params == nil {
			params = map[string]any{}
		}
		result, err := bs.schema.Validate(gojsonschema.NewGoLoader(params))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if !result.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, result.Errors())
		}
	}
	return bs.handler(ctx, params)
}

// List returns the bound skills sorted by name.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, bs := range r.skills {
		out = append(out, bs.skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads the manifest whenever the file changes, until ctx is done.
// Editors often replace files by rename, so create events count too.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch skills manifest: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.LoadManifest(path); err != nil {
					r.logger.Error("skills manifest reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("skills manifest watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
