// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtimefilter

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// registryKey orders entries by (FragmentInstanceID, FilterID, Role) so
// a single fragment can hold both a producer and a consumer instance for
// the same filter id (a local broadcast's producer registers alongside
// its own local consumer).
type registryKey struct {
	frag FragmentInstanceID
	id   FilterID
	role Role
}

func lessKey(a, b registryKey) bool {
	for i := range a.frag {
		if a.frag[i] != b.frag[i] {
			return a.frag[i] < b.frag[i]
		}
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return a.role < b.role
}

type registryEntry struct {
	key      registryKey
	instance *FilterInstance
}

func lessEntry(a, b registryEntry) bool { return lessKey(a.key, b.key) }

// FilterRegistry is the process-wide, per-query map from
// (fragment-instance-id, filter-id) to FilterInstance plus a role index
//. Registration creates the instance in not-ready;
// lookup is concurrent, insertion is serialized.
//
// The map is read-mostly with copy-on-write under lock: a write takes
// the lock, calls tree.Copy() for an O(1) structural-sharing clone, and
// swaps the clone in, so a reader iterating a snapshot taken before the
// swap never observes a half-inserted entry.
type FilterRegistry struct {
	mu   sync.Mutex
	tree *btree.BTreeG[registryEntry]
}

func NewFilterRegistry() *FilterRegistry {
	return &FilterRegistry{tree: btree.NewBTreeG(lessEntry)}
}

// Register creates (or returns the existing) FilterInstance for
// (fragID, filterID, role). Insertion is serialized under the
// registry's lock; Get holds that lock only long enough to load the
// current snapshot.
func (r *FilterRegistry) Register(fragID FragmentInstanceID, filterID FilterID, role Role, wrapper *FilterWrapper, opts InstanceOptions) *FilterInstance {
	key := registryKey{frag: fragID, id: filterID, role: role}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tree.Get(registryEntry{key: key}); ok {
		return existing.instance
	}
	instance := NewFilterInstance(filterID, fragID, role, wrapper, opts)
	next := r.tree.Copy()
	next.Set(registryEntry{key: key, instance: instance})
	r.tree = next
	return instance
}

// Get looks up the instance for (fragID, filterID, role). Safe to call
// concurrently with Register; it reads whatever snapshot was current
// when the pointer was loaded.
func (r *FilterRegistry) Get(fragID FragmentInstanceID, filterID FilterID, role Role) (*FilterInstance, bool) {
	r.mu.Lock()
	tree := r.tree
	r.mu.Unlock()

	entry, ok := tree.Get(registryEntry{key: registryKey{frag: fragID, id: filterID, role: role}})
	if !ok {
		return nil, false
	}
	return entry.instance, true
}

// GetOrErr is a convenience wrapper for call sites that want an error
// rather than a boolean on miss.
func (r *FilterRegistry) GetOrErr(fragID FragmentInstanceID, filterID FilterID, role Role) (*FilterInstance, error) {
	instance, ok := r.Get(fragID, filterID, role)
	if !ok {
		return nil, rferr.InvalidConfigf("no %v filter instance registered for filter %d fragment %s", role, filterID, fragID)
	}
	return instance, nil
}

// ForEachProducer and ForEachConsumer are the role-indexed scan over
// the current snapshot filtered by role. Query cancellation (CancelAll)
// scans the snapshot directly rather than going through them.
func (r *FilterRegistry) forEachRole(role Role, fn func(*FilterInstance)) {
	r.mu.Lock()
	tree := r.tree
	r.mu.Unlock()

	tree.Scan(func(e registryEntry) bool {
		if e.key.role == role {
			fn(e.instance)
		}
		return true
	})
}

func (r *FilterRegistry) ForEachProducer(fn func(*FilterInstance)) { r.forEachRole(RoleProducer, fn) }
func (r *FilterRegistry) ForEachConsumer(fn func(*FilterInstance)) { r.forEachRole(RoleConsumer, fn) }

// CancelAll signals every registered instance ignored/timed-out, used
// when the owning query is cancelled.
func (r *FilterRegistry) CancelAll() {
	r.mu.Lock()
	tree := r.tree
	r.mu.Unlock()

	tree.Scan(func(e registryEntry) bool {
		e.instance.Cancel()
		return true
	})
}

// Len reports the number of registered instances, for diagnostics.
func (r *FilterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}
