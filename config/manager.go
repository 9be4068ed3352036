package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager owns the config file. Updates are validated, persisted atomically
// and fanned out to every listener registered with Watch. Edits made to the
// file by hand are picked up by the watcher after a debounce.
type Manager struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	cfg       Config
	version   uint64
	listeners []func(Config)
	watching  bool
	// digest of the last bytes this manager wrote; the watcher ignores
	// events that leave the file at exactly that content.
	written [sha256.Size]byte
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
	logger        *zap.Logger
}

type ManagerOption func(*managerOptions)

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		debounce: 300 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	path := options.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	m := &Manager{
		path:     path,
		debounce: options.debounce,
		logger:   options.logger,
		version:  1,
	}
	cfg, err := m.loadOrCreate(options.initialConfig)
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

// Get returns a copy of the current config.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Version increases by one on every applied change.
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) UpdateFromJSON(jsonStr string) error {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// Set applies a single key=value change using the file's field names.
// Values are parsed as YAML scalars; list fields also accept "a,b,c".
func (m *Manager) Set(key, value string) error {
	fields, err := toFields(m.Get())
	if err != nil {
		return err
	}
	current, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	if _, isList := current.([]any); isList {
		if str, ok := parsed.(string); ok {
			parsed = splitList(str)
		}
	}
	fields[key] = parsed

	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return m.UpdateFromJSON(string(raw))
}

// Update validates cfg, writes it to disk and notifies listeners. A config
// equal to the current one is a no-op.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return nil
	}
	if err := m.persist(cfg); err != nil {
		return err
	}
	m.apply(cfg)
	return nil
}

// Watch registers onChange and, on first call, starts watching the config
// file. Listeners run synchronously in registration order.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	if onChange != nil {
		m.listeners = append(m.listeners, onChange)
	}
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.setWatching(false)
		return err
	}
	// 监听目录而不是文件, 原子替换会让文件句柄失效
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		m.setWatching(false)
		return fmt.Errorf("watch config dir: %w", err)
	}
	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) setWatching(v bool) {
	m.mu.Lock()
	m.watching = v
	m.mu.Unlock()
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	defer m.setWatching(false)

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if m.isConfigEvent(evt) {
				timer.Reset(m.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			m.reloadFromDisk()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) isConfigEvent(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

func (m *Manager) reloadFromDisk() {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		// deleted by hand: put the current config back
		if err := m.persist(m.Get()); err != nil {
			m.logger.Error("config recreate failed", zap.Error(err))
		}
		return
	}
	if err != nil {
		m.logger.Error("config reload failed", zap.Error(err))
		return
	}

	m.mu.RLock()
	own := m.written == sha256.Sum256(data)
	m.mu.RUnlock()
	if own {
		return
	}

	cfg, err := m.decode(data)
	if err != nil {
		m.logger.Error("config reload failed", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		m.logger.Warn("config validation failed, keeping previous", zap.Error(err))
		return
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return
	}
	m.logger.Info("config reloaded", zap.String("path", m.path))
	m.apply(cfg)
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.version++
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

func (m *Manager) loadOrCreate(initial *Config) (Config, error) {
	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		cfg, err := m.decode(data)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		m.written = sha256.Sum256(data)
		return cfg, nil
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := *DefaultConfigWithRoot(filepath.Dir(m.path))
	if initial != nil {
		cfg = *initial
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := m.persist(cfg); err != nil {
		return Config{}, fmt.Errorf("write initial config: %w", err)
	}
	return cfg, nil
}

// persist writes cfg through a temp file and a rename so readers never see
// a partial file.
func (m *Manager) persist(cfg Config) error {
	data, err := encodeConfig(m.path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	m.mu.Lock()
	m.written = sha256.Sum256(data)
	m.mu.Unlock()
	return writeFileAtomic(m.path, data)
}

// decode parses data on top of the defaults so absent keys keep sane values.
func (m *Manager) decode(data []byte) (Config, error) {
	cfg := *DefaultConfigWithRoot(filepath.Dir(m.path))
	if isYAML(m.path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config json: %w", err)
	}
	return cfg, nil
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "tradecouncil", "config.yaml"), nil
}

// Load reads a config file without creating a manager.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := (&Manager{path: path}).decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func toFields(cfg Config) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func encodeConfig(path string, cfg Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(&cfg)
	}
	return json.MarshalIndent(&cfg, "", "  ")
}

func writeConfigFile(path string, cfg Config) error {
	data, err := encodeConfig(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// WithConfigDir places a config.json inside dir.
func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.configPath = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initialConfig = cfg
	}
}

func WithLogger(logger *zap.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
