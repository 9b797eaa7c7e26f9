// Package instance models one provisioned agent instance: one
// concrete agent process (terminal window or SDK runner) belonging to a
// project, with exactly one chat channel. Instances are created by
// external provisioning and consumed read-only by the rest of the core —
// this package exposes the registry the pipeline/router read from;
// nothing else mutates the registry map.
package instance

import (
	"fmt"
	"sync"
	"time"

	"github.com/dguik/discode/lib/msgfmt"
	"github.com/dguik/discode/lib/runtime"
	"github.com/dguik/discode/lib/sdkrunner"
)

// ProjectInstance is exactly one terminal window XOR one SDK runner for a
// given project, bound to exactly one chat channel.
type ProjectInstance struct {
	ProjectName string
	InstanceID  string
	AgentType   msgfmt.AgentType
	ChannelID   string
	ProjectPath string

	Window    *runtime.Window
	SDKRunner sdkrunner.Runner

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

// Key returns the (projectName, instanceId) composite identity.
func (p *ProjectInstance) Key() string {
	return p.ProjectName + "/" + p.InstanceID
}

// InstanceKey returns instanceId if set, else agentType — the key used by
// PendingTracker/StreamingUpdater/timers.
func (p *ProjectInstance) InstanceKey() string {
	if p.InstanceID != "" {
		return p.InstanceID
	}
	return p.AgentType.OrDefault().String()
}

// IsSDK reports whether this instance dispatches via an SDK runner rather
// than a terminal window.
func (p *ProjectInstance) IsSDK() bool {
	return p.SDKRunner != nil
}

// Touch updates the instance's last-active timestamp.
func (p *ProjectInstance) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActive = time.Now()
}

func (p *ProjectInstance) LastActive() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastActive
}

// Registry holds every provisioned ProjectInstance, keyed by
// (projectName, instanceId) and indexed secondarily by channel and by
// (projectName, agentType) for "primary instance" resolution.
type Registry struct {
	mu        sync.RWMutex
	byKey     map[string]*ProjectInstance
	byChannel map[string]*ProjectInstance
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:     make(map[string]*ProjectInstance),
		byChannel: make(map[string]*ProjectInstance),
	}
}

// Register adds or replaces an instance (external provisioning calls this;
// core itself never creates instances, only reads them).
func (r *Registry) Register(pi *ProjectInstance) {
	pi.createdAt = time.Now()
	pi.lastActive = pi.createdAt

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[pi.Key()] = pi
	if pi.ChannelID != "" {
		r.byChannel[pi.ChannelID] = pi
	}
}

func (r *Registry) Unregister(projectName, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := projectName + "/" + instanceID
	if pi, ok := r.byKey[key]; ok {
		delete(r.byChannel, pi.ChannelID)
		delete(r.byKey, key)
	}
}

// Get looks up an instance by its exact (projectName, instanceId) key.
func (r *Registry) Get(projectName, instanceID string) (*ProjectInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pi, ok := r.byKey[projectName+"/"+instanceID]
	return pi, ok
}

// Primary returns the first instance found for projectName running
// agentType, used when a hook envelope/chat message carries no explicit
// instanceId.
func (r *Registry) Primary(projectName string, agentType msgfmt.AgentType) (*ProjectInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pi := range r.byKey {
		if pi.ProjectName == projectName && pi.AgentType.OrDefault() == agentType.OrDefault() {
			return pi, true
		}
	}
	return nil, false
}

// ByChannel resolves an instance by its bound chat channel id.
func (r *Registry) ByChannel(channelID string) (*ProjectInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pi, ok := r.byChannel[channelID]
	return pi, ok
}

// Resolve implements the shared lookup order: explicit
// instanceId first, else primary instance for agentType.
func (r *Registry) Resolve(projectName, instanceID string, agentType msgfmt.AgentType) (*ProjectInstance, error) {
	if instanceID != "" {
		if pi, ok := r.Get(projectName, instanceID); ok {
			return pi, nil
		}
		return nil, fmt.Errorf("instance not found: %s/%s", projectName, instanceID)
	}
	if pi, ok := r.Primary(projectName, agentType); ok {
		return pi, nil
	}
	return nil, fmt.Errorf("no instance for project %s agentType %s", projectName, agentType.OrDefault())
}
