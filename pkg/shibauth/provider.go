package shibauth

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// PolicyProvider hands the current policy to request handlers. Reloads
// swap the whole value atomically; in-flight requests keep the policy
// they started with.
type PolicyProvider struct {
	current atomic.Pointer[Policy]
}

// NewPolicyProvider creates a provider serving the given policy.
func NewPolicyProvider(policy *Policy) *PolicyProvider {
	p := &PolicyProvider{}
	p.current.Store(policy)
	return p
}

// Current returns the active policy.
func (p *PolicyProvider) Current() *Policy {
	return p.current.Load()
}

// Replace swaps in a new policy.
func (p *PolicyProvider) Replace(policy *Policy) {
	p.current.Store(policy)
}

// Watch reloads the policy file whenever it changes on disk, until the
// context is canceled. Invalid edits are logged and the previous policy
// stays active. The parent directory is watched so editors that replace
// the file (rename-over) are picked up.
func (p *PolicyProvider) Watch(ctx context.Context, path string, logger *logrus.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
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
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				policy, err := LoadPolicy(path)
				if err != nil {
					logger.WithError(err).WithField("path", path).Error("Policy reload failed, keeping previous policy")
					continue
				}
				p.Replace(policy)
				logger.WithFields(logrus.Fields{
					"path":            path,
					"authorized_idps": len(policy.AuthorizedIDPs),
					"authoritative":   policy.GroupsAuthoritative,
				}).Info("Policy reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Policy watcher error")
			}
		}
	}()

	return nil
}
