package provider

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provider",
	fx.Provide(NewRegistry),
	fx.Invoke(registerExecutors),
)

// Registry is the process-wide table of provider capabilities and their
// executors. Reads vastly outnumber writes (writes happen at startup, on
// hot-reload, and in test teardown), so lookups take only an RLock.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Capability
	execs map[string]Executor
}

func NewRegistry() *Registry {
	r := &Registry{
		caps:  make(map[string]Capability),
		execs: make(map[string]Executor),
	}
	for _, cap := range seedCapabilities() {
		r.caps[cap.ID] = cap
	}
	return r
}

// Register installs or overwrites the executor for a provider.
func (r *Registry) Register(providerID string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[providerID] = exec
	zap.L().Info("provider executor registered", zap.String("provider_id", providerID))
}

// RegisterCapability installs or overwrites a capability entry.
func (r *Registry) RegisterCapability(cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[cap.ID] = cap
}

// Remove drops the executor for a provider. No-op when absent.
func (r *Registry) Remove(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.execs, providerID)
}

// Lookup returns the executor for a provider. A missing entry is a normal
// fallback case, never an error.
func (r *Registry) Lookup(providerID string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.execs[providerID]
	return exec, ok
}

func (r *Registry) Capability(providerID string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[providerID]
	return cap, ok
}

// Capabilities returns a snapshot sorted by ID.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.caps))
	for _, cap := range r.caps {
		out = append(out, cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedByCost returns capabilities cheapest first; on-device engines sort
// ahead of equally priced cloud ones.
func (r *Registry) SortedByCost() []Capability {
	out := r.Capabilities()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CostPer1kImages != out[j].CostPer1kImages {
			return out[i].CostPer1kImages < out[j].CostPer1kImages
		}
		return out[i].Offline && !out[j].Offline
	})
	return out
}

// EstimateCost returns the credit cost for rating imageCount images with the
// given provider. Unknown providers cost nothing.
func (r *Registry) EstimateCost(providerID string, imageCount int) int64 {
	cap, ok := r.Capability(providerID)
	if !ok || imageCount <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(imageCount) * float64(cap.CostPer1kImages) / 1000))
}

// ResolveOrder builds the provider order for one run. An explicit order is
// used verbatim (de-duplicated); the cost-sorted remainder is appended when
// fallback is allowed. Without an explicit order the on-device engine always
// leads.
func (r *Registry) ResolveOrder(explicit []string, allowFallback bool) []string {
	seen := make(map[string]bool)
	order := make([]string, 0, len(r.caps))

	push := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
	}

	if len(explicit) > 0 {
		for _, id := range explicit {
			push(id)
		}
		if allowFallback {
			for _, cap := range r.SortedByCost() {
				push(cap.ID)
			}
		}
		return order
	}

	for _, cap := range r.SortedByCost() {
		push(cap.ID)
	}
	if !seen[AppleIntelligence] {
		order = append([]string{AppleIntelligence}, order...)
	}
	return order
}
