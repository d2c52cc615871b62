// Package registry holds the set of active plugins and fans out dispatcher
// callbacks to whichever of them declared interest in that layer, each
// under its own mutex so one slow or misbehaving plugin only ever blocks
// itself. This generalizes the teacher's single TCPParserFactory-per-stream
// model into the layer-indexed, many-plugins broadcast spec.md §4.5 calls
// for.
package registry

import (
	"sync"

	"github.com/mel2oo/pcapcore/flowtable"
	"github.com/mel2oo/pcapcore/internal/logging"
	"github.com/mel2oo/pcapcore/plugin"
	"github.com/mel2oo/pcapcore/sets"
	"github.com/mel2oo/pcapcore/slices"
)

type entry struct {
	id      plugin.ID
	p       plugin.Plugin
	caps    plugin.Type
	l4Proto sets.Set[uint8] // nil means "every protocol", set by plugin.L4Filter
	mu      sync.Mutex
}

// Registry dispatches layer callbacks to every registered plugin that
// declared interest in that layer.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds p to the registry and returns the ID it was assigned. If p
// implements plugin.L4Filter, its HandleTransportLayer calls are narrowed
// to the protocols it names.
func (r *Registry) Register(p plugin.Plugin) plugin.ID {
	id := plugin.NewID()
	e := &entry{id: id, p: p, caps: p.Capabilities()}
	if f, ok := p.(plugin.L4Filter); ok {
		e.l4Proto = f.L4Protocols()
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return id
}

// Unregister removes the plugin with the given ID, if present.
func (r *Registry) Unregister(id plugin.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the entries interested in want, without holding the
// registry lock while running callbacks.
func (r *Registry) snapshot(want plugin.Type) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entry
	for _, e := range r.entries {
		if e.caps.Has(want) {
			out = append(out, e)
		}
	}
	return out
}

// PreProcess invokes PreProcess on every registered plugin, regardless of
// its capability bitmask: setup runs once for all of them.
func (r *Registry) PreProcess() {
	r.mu.RLock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		e.p.PreProcess()
		e.mu.Unlock()
	}
}

// PostProcess invokes PostProcess on every registered plugin, in the
// reverse of their registration order, mirroring teardown-mirrors-setup.
func (r *Registry) PostProcess() {
	r.mu.RLock()
	entries := slices.Reverse(r.entries)
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		e.p.PostProcess()
		e.mu.Unlock()
	}
}

// Names returns the registered plugins' names, in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Map(r.entries, func(e *entry) string { return e.p.Name() })
}

// DispatchPhysicalLayer fans out the unfiltered physical-layer callback,
// firing for every captured frame regardless of whether it goes on to
// decode successfully (spec.md §4.5's handle_layer_physical).
func (r *Registry) DispatchPhysicalLayer(info plugin.LinkInfo) {
	for _, e := range r.snapshot(plugin.TypePhysical) {
		e.mu.Lock()
		safeCall(e.p.Name(), func() { e.p.HandlePhysicalLayer(info) })
		e.mu.Unlock()
	}
}

// DispatchLinkLayer fans out a link-layer callback.
func (r *Registry) DispatchLinkLayer(info plugin.LinkInfo) {
	for _, e := range r.snapshot(plugin.TypeLink) {
		e.mu.Lock()
		safeCall(e.p.Name(), func() { e.p.HandleLinkLayer(info) })
		e.mu.Unlock()
	}
}

// DispatchNetworkLayer fans out a network-layer callback.
func (r *Registry) DispatchNetworkLayer(info plugin.NetworkInfo) {
	for _, e := range r.snapshot(plugin.TypeNetwork) {
		e.mu.Lock()
		safeCall(e.p.Name(), func() { e.p.HandleNetworkLayer(info) })
		e.mu.Unlock()
	}
}

// DispatchTransportLayer fans out a transport-layer callback — the main
// path plugins use to receive reassembled TCP payload and UDP datagrams —
// skipping any plugin whose L4Filter excludes info.L4Proto.
func (r *Registry) DispatchTransportLayer(info plugin.PacketInfo) {
	for _, e := range r.snapshot(plugin.TypeTransport) {
		if e.l4Proto != nil && !e.l4Proto.Contains(info.L4Proto) {
			continue
		}
		e.mu.Lock()
		safeCall(e.p.Name(), func() { e.p.HandleTransportLayer(info) })
		e.mu.Unlock()
	}
}

// DispatchFlowCreated notifies plugins that declared TypeFlowCreated of a
// new flow.
func (r *Registry) DispatchFlowCreated(flow *flowtable.Flow) {
	for _, e := range r.snapshot(plugin.TypeFlowCreated) {
		e.mu.Lock()
		safeCall(e.p.Name(), func() { e.p.FlowCreated(flow) })
		e.mu.Unlock()
	}
}

// DispatchFlowDestroyed notifies plugins that declared TypeFlowDestroyed of
// a flow's teardown.
func (r *Registry) DispatchFlowDestroyed(flow *flowtable.Flow) {
	for _, e := range r.snapshot(plugin.TypeFlowDestroyed) {
		e.mu.Lock()
		safeCall(e.p.Name(), func() { e.p.FlowDestroyed(flow) })
		e.mu.Unlock()
	}
}

// safeCall recovers a panicking plugin callback so one broken plugin can't
// take the whole analyzer down with it.
func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("registry: plugin %q panicked: %v", name, r)
		}
	}()
	fn()
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
