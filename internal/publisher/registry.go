package publisher

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/PortNumber53/social-scheduler/internal/models"
)

// Platform posts one content item to one connected account and returns the id the
// platform assigned to the post.
type Platform interface {
	Name() string
	Publish(ctx context.Context, account *models.ConnectedAccount, item *models.ContentItem) (externalID string, err error)
}

// Registry maps platform names to clients. Accounts on a platform with no registered
// client fail with unsupported_platform instead of stopping the attempt.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

func NewRegistry(platforms ...Platform) *Registry {
	r := &Registry{platforms: map[string]Platform{}}
	for _, p := range platforms {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Platform) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names returns the registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
