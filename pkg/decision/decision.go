package decision

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pippellia-btc/smallset"
	"gopkg.in/yaml.v3"
)

// The routing decisions stored with every request.
const (
	Allowed    = "Allowed"
	Blocked    = "Blocked"
	Flagged    = "Flagged"
	Redirected = "Redirected"
	Throttled  = "Throttled"
)

// Policy is the content of the policy file.
type Policy struct {
	// BlockedIPs are matched exactly.
	BlockedIPs []string `yaml:"blocked_ips"`

	// BlockedAgents are matched as case-insensitive substrings of the user agent.
	BlockedAgents []string `yaml:"blocked_agents"`

	// FlaggedEndpoints are matched as prefixes of the request path.
	FlaggedEndpoints []string `yaml:"flagged_endpoints"`
}

// Engine decides the fate of requests according to its policy.
// It reloads the policy file when it's modified, keeping the old policy if the new one is invalid.
type Engine struct {
	mu        sync.RWMutex
	ips       *smallset.Ordered[string]
	agents    *smallset.Ordered[string]
	endpoints *smallset.Ordered[string]

	path    string
	log     *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates an engine with the policy found at [Config.PolicyPath].
// With an empty path, the engine allows every request and watches nothing.
// With a missing file, the engine allows every request until the file is created.
func New(c Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}

	e := &Engine{
		ips:       smallset.New[string](100),
		agents:    smallset.New[string](100),
		endpoints: smallset.New[string](100),
		log:       log,
		done:      make(chan struct{}),
	}

	if c.PolicyPath == "" {
		return e, nil
	}

	// Resolve absolute path for reliable comparison with fsnotify names
	path, err := filepath.Abs(c.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy path: %w", err)
	}
	e.path = path

	_, err = e.reload()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("decision: policy file not found, allowing every request until it's created", "path", path)

	case err != nil:
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	e.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// The directory is watched instead of the file because editors
	// write atomically (temp file + rename), which would drop a watch on the file.
	if err := e.watcher.Add(filepath.Dir(path)); err != nil {
		e.watcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	go e.watch()
	return e, nil
}

// Close stops the file watcher, if any.
func (e *Engine) Close() error {
	close(e.done)
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

// Decide returns [Blocked] if the ip or the user agent are blocked, [Flagged] if the endpoint
// is flagged, and [Allowed] otherwise.
func (e *Engine) Decide(ip, userAgent, endpoint string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.ips.Contains(ip) {
		return Blocked
	}

	agent := strings.ToLower(userAgent)
	for _, blocked := range e.agents.Items() {
		if strings.Contains(agent, blocked) {
			return Blocked
		}
	}

	for _, flagged := range e.endpoints.Items() {
		if strings.HasPrefix(endpoint, flagged) {
			return Flagged
		}
	}
	return Allowed
}

// Policy returns a copy of the policy in use. Agents are lowercased.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Policy{
		BlockedIPs:       e.ips.Items(),
		BlockedAgents:    e.agents.Items(),
		FlaggedEndpoints: e.endpoints.Items(),
	}
}

// watch monitors the policy directory and reloads the policy when its file changes.
func (e *Engine) watch() {
	const delay = 100 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-e.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if filepath.Clean(event.Name) != e.path {
				continue
			}

			// debounce, editors often emit several events per save
			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(delay, func() {
				rules, err := e.reload()
				if err != nil {
					e.log.Error("decision: reload failed, using old policy", "path", e.path, "error", err)
					return
				}

				e.log.Info("decision: successful reload", "path", e.path, "rules", rules)
			})

		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.log.Error("decision: watcher error", "error", err)
		}
	}
}

// reload parses the policy file and swaps it in.
// It returns the number of rules in the new policy.
func (e *Engine) reload() (int, error) {
	policy, err := parsePolicy(e.path)
	if err != nil {
		return 0, err
	}

	agents := make([]string, 0, len(policy.BlockedAgents))
	for _, agent := range policy.BlockedAgents {
		agents = append(agents, strings.ToLower(agent))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ips = smallset.NewFrom(policy.BlockedIPs...)
	e.agents = smallset.NewFrom(agents...)
	e.endpoints = smallset.NewFrom(policy.FlaggedEndpoints...)
	return e.ips.Size() + e.agents.Size() + e.endpoints.Size(), nil
}

// parsePolicy reads the YAML policy at path, trimming and dropping empty entries.
func parsePolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}

	policy.BlockedIPs = clean(policy.BlockedIPs)
	policy.BlockedAgents = clean(policy.BlockedAgents)
	policy.FlaggedEndpoints = clean(policy.FlaggedEndpoints)
	return policy, nil
}

func clean(entries []string) []string {
	cleaned := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			cleaned = append(cleaned, entry)
		}
	}
	return cleaned
}
