// Package soft is a pure-Go reference implementation of engine.Engine.
//
// Effects are directories under the resource root holding a config.yaml
// manifest (see Manifest). The engine applies color grading, mirroring and
// an optional scaled overlay; it exists so the quickstart runs end to end
// without the proprietary engine, and it backs the fxhost bridge binary.
package soft

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// ErrMissingToken is returned by Initialize for an empty client token.
var ErrMissingToken = errors.New("client token is required")

// DescriptorPath is the engine descriptor Initialize requires under the
// resource root.
const DescriptorPath = "engine/engine.yaml"

// Descriptor is the engine section of the provisioned resources.
//
//	format: 1
//	effects_dir: effects
//	pixel_layout: rgba8
type Descriptor struct {
	Format      int    `yaml:"format"`
	EffectsDir  string `yaml:"effects_dir"`
	PixelLayout string `yaml:"pixel_layout"`
}

func readDescriptor(fsys fs.FS) (Descriptor, error) {
	var d Descriptor
	data, err := fs.ReadFile(fsys, DescriptorPath)
	if err != nil {
		return d, fmt.Errorf("engine descriptor: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", DescriptorPath, err)
	}
	if d.Format != 1 {
		return d, fmt.Errorf("%s: unsupported format %d", DescriptorPath, d.Format)
	}
	if d.PixelLayout != "" && d.PixelLayout != "rgba8" {
		return d, fmt.Errorf("%s: unsupported pixel_layout %q", DescriptorPath, d.PixelLayout)
	}
	return d, nil
}

type player struct {
	surface bool
	width   int
	height  int
	effect  *effect
}

// Engine implements engine.Engine. The zero value is ready to use.
type Engine struct {
	mu      sync.Mutex
	root    fs.FS
	next    engine.Handle
	players map[engine.Handle]*player
}

var _ engine.Engine = (*Engine)(nil)

// New returns an uninitialized engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Initialize(resourcePath, token string) error {
	if strings.TrimSpace(token) == "" {
		return engine.Wrap(engine.KindEngineInit, "initialize", ErrMissingToken)
	}
	info, err := os.Stat(resourcePath)
	if err != nil {
		return engine.Wrap(engine.KindEngineInit, "initialize", fmt.Errorf("resource path: %w", err))
	}
	if !info.IsDir() {
		return engine.Errorf(engine.KindEngineInit, "initialize", "resource path %s is not a directory", resourcePath)
	}

	root := os.DirFS(resourcePath)
	desc, err := readDescriptor(root)
	if err != nil {
		return engine.Wrap(engine.KindEngineInit, "initialize", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root != nil {
		return engine.Errorf(engine.KindEngineInit, "initialize", "already initialized")
	}
	e.root = root
	e.players = make(map[engine.Handle]*player)

	slog.Info("soft engine: initialized",
		"resource_path", resourcePath,
		"effects_dir", desc.EffectsDir,
	)
	return nil
}

func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return nil
	}
	if n := len(e.players); n > 0 {
		return engine.Errorf(engine.KindProcessing, "shutdown", "%d contexts still alive", n)
	}
	e.root = nil
	e.players = nil
	slog.Info("soft engine: shut down")
	return nil
}

func (e *Engine) CreateContext() (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return 0, engine.Wrap(engine.KindEngineInit, "create_context", engine.ErrNotInitialized)
	}
	e.next++
	e.players[e.next] = &player{}
	return e.next, nil
}

func (e *Engine) DestroyContext(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.player(h, "destroy_context"); err != nil {
		return err
	}
	delete(e.players, h)
	return nil
}

// player must be called with mu held.
func (e *Engine) player(h engine.Handle, op string) (*player, error) {
	if e.root == nil {
		return nil, engine.Wrap(engine.KindProcessing, op, engine.ErrNotInitialized)
	}
	p, ok := e.players[h]
	if !ok {
		return nil, engine.Errorf(engine.KindProcessing, op, "%w: %s", engine.ErrInvalidHandle, h)
	}
	return p, nil
}

func (e *Engine) SurfaceCreated(h engine.Handle, width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.player(h, "surface_created")
	if err != nil {
		return err
	}
	p.surface = true
	p.width, p.height = width, height
	return nil
}

func (e *Engine) SurfaceChanged(h engine.Handle, width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.player(h, "surface_changed")
	if err != nil {
		return err
	}
	if !p.surface {
		return engine.Errorf(engine.KindProcessing, "surface_changed", "no surface for %s", h)
	}
	p.width, p.height = width, height
	return nil
}

func (e *Engine) SurfaceDestroyed(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.player(h, "surface_destroyed")
	if err != nil {
		return err
	}
	p.surface = false
	return nil
}

// LoadEffect loads the effect directory name (relative to the resource
// root, e.g. "effects/Afro"). The previous effect stays active on failure.
func (e *Engine) LoadEffect(h engine.Handle, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.player(h, "load_effect")
	if err != nil {
		return err
	}

	dir := path.Clean(strings.TrimPrefix(name, "/"))
	if !fs.ValidPath(dir) || dir == "." {
		return engine.Errorf(engine.KindEffectLoad, "load_effect", "invalid effect name %q", name)
	}

	fx, err := loadEffect(e.root, dir)
	if err != nil {
		return engine.Errorf(engine.KindEffectLoad, "load_effect", "effect %q: %w", name, err)
	}
	p.effect = fx
	return nil
}

func (e *Engine) ProcessPhoto(h engine.Handle, pixels []byte, width, height int) ([]byte, error) {
	e.mu.Lock()
	p, err := e.player(h, "process_photo")
	var fx *effect
	if p != nil {
		fx = p.effect
	}
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := engine.CheckBuffer(pixels, width, height); err != nil {
		return nil, engine.Wrap(engine.KindProcessing, "process_photo", err)
	}

	out := make([]byte, len(pixels))
	copy(out, pixels)
	if fx != nil {
		frame := &image.RGBA{
			Pix:    out,
			Stride: width * engine.BytesPerPixel,
			Rect:   image.Rect(0, 0, width, height),
		}
		fx.apply(frame)
	}
	return out, nil
}

// List returns the effect names ("effects/Afro", ...) found under fsys:
// every directory holding a manifest.
func List(fsys fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == ManifestName {
			names = append(names, path.Dir(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list effects: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
