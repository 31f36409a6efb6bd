package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Provider serves per-project GitLab settings as a live stream. The config
// file is re-read whenever it changes on disk, and every open subscription
// receives the fresh value. Callers that only need the current settings
// take the first value off the channel and cancel the subscription.
type Provider struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	subs []*subscription

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type subscription struct {
	projectID string
	ch        chan GitLabConfig
}

// NewProvider loads the config at path and starts watching it for changes.
func NewProvider(path string) (*Provider, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		path: path,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	p.watcher = watcher

	// Watch the directory rather than the file: editors that write via
	// rename would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	go p.watch()

	return p, nil
}

// NewStaticProvider wraps an already-loaded config without file watching.
// Useful for tests and one-shot commands.
func NewStaticProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg, done: make(chan struct{})}
}

// ConfigForProject returns a channel carrying the settings for projectID
// and a cancel that releases the subscription. The current value is
// available immediately; further values arrive when the config file
// changes, until cancel is called. An unknown projectID yields zero-value
// (disabled) settings.
func (p *Provider) ConfigForProject(projectID string) (<-chan GitLabConfig, func(), error) {
	if projectID == "" {
		return nil, nil, fmt.Errorf("project id is required")
	}

	sub := &subscription{
		projectID: projectID,
		ch:        make(chan GitLabConfig, 1),
	}

	p.mu.Lock()
	sub.ch <- p.cfg.Projects[projectID]
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { p.unsubscribe(sub) })
	}

	return sub.ch, cancel, nil
}

func (p *Provider) unsubscribe(sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s == sub {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// ProjectIDs returns the configured project identifiers, sorted.
func (p *Provider) ProjectIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.cfg.Projects))
	for id := range p.cfg.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DatabasePath returns the configured database location.
func (p *Provider) DatabasePath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Database.Path
}

// Close stops the file watcher and drops all subscriptions.
func (p *Provider) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *Provider) watch() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Name != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p.reload()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

func (p *Provider) reload() {
	cfg, err := LoadFrom(p.path)
	if err != nil {
		log.Printf("reloading config: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg

	for _, sub := range p.subs {
		value := cfg.Projects[sub.projectID]
		// Replace any undelivered value so slow readers see latest state
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- value:
		default:
		}
	}
}
