// Package cache implements the global method cache of spec §4.2/§C3: a
// (class, selector) -> compiled-method mapping that makes repeated sends
// cheap without re-walking the superclass chain, with invalidation hooks
// fired whenever a method dictionary mutates anywhere in the image.
//
// This is new domain-stack plumbing the teacher does not have (the
// teacher looks up methods directly on bytecode.ClassDefinition.Methods
// on every send); it is grounded on the `mna-nenuphar` manifest, a
// register-bytecode VM in the retrieval pack that depends on
// github.com/dolthub/swiss for its own global interned-value tables. A
// swiss-table map is a good fit here because spec §4.2 requires the cache
// be probed on essentially every non-inlined send in the interpreter's
// hot path, and swiss tables give flat, cache-friendly open addressing
// instead of Go's built-in map's bucket-chasing.
package cache

import (
	"github.com/dolthub/swiss"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/oop"
)

// key is the (class, selector) pair the cache is indexed by. Selectors
// are interned to a small integer id by the cache itself (see intern,
// called from Store) so the
// key stays a plain comparable struct, as dolthub/swiss requires.
type key struct {
	class    oop.ClassRef
	selector uint32
}

// MethodCache is the advisory, global send cache of spec §4.2. A miss
// never causes incorrect behavior -- it only costs a hierarchy walk
// (spec: "The cache is advisory; a cold cache causes recomputation,
// never incorrectness.").
type MethodCache struct {
	entries *swiss.Map[key, entry]

	selectorIDs map[string]uint32
	nextID      uint32

	hits, misses, invalidations uint64
}

type entry struct {
	method    *bytecode.CompiledMethod
	definedOn oop.ClassRef
}

// New creates an empty method cache sized for capacity entries.
func New(capacity uint32) *MethodCache {
	return &MethodCache{
		entries:     swiss.NewMap[key, entry](capacity),
		selectorIDs: make(map[string]uint32),
	}
}

// intern returns a stable small integer id for a selector string, so cache
// keys stay comparable structs of two integers rather than embedding a
// Go string (which would defeat the point of a flat open-addressed map).
func (c *MethodCache) intern(selector string) uint32 {
	if id, ok := c.selectorIDs[selector]; ok {
		return id
	}
	c.nextID++
	id := c.nextID
	c.selectorIDs[selector] = id
	return id
}

// Lookup returns the cached method for (class, selector) if present.
// Contract (spec §4.2): "Any send with a cache hit is observationally
// equal to a full hierarchy walk" -- callers must only populate the cache
// via Store with the real result of Registry.Lookup.
func (c *MethodCache) Lookup(class oop.ClassRef, selector string) (*bytecode.CompiledMethod, oop.ClassRef, bool) {
	id, ok := c.selectorIDs[selector]
	if !ok {
		c.misses++
		return nil, 0, false
	}
	e, ok := c.entries.Get(key{class: class, selector: id})
	if !ok {
		c.misses++
		return nil, 0, false
	}
	c.hits++
	return e.method, e.definedOn, true
}

// Store records the result of a hierarchy walk for (class, selector).
func (c *MethodCache) Store(class oop.ClassRef, selector string, method *bytecode.CompiledMethod, definedOn oop.ClassRef) {
	id := c.intern(selector)
	c.entries.Put(key{class: class, selector: id}, entry{method: method, definedOn: definedOn})
}

// Invalidate drops every cache entry for class and every class in
// subclasses, per spec §4.2: "Any mutation of any method dictionary
// anywhere in the image invalidates every entry whose class is the
// mutated dictionary's owner OR any subclass." Callers pass the
// subclasses precomputed (pkg/class.Registry.Subclasses) since the cache
// itself does not know the hierarchy.
func (c *MethodCache) Invalidate(changed oop.ClassRef, subclasses []oop.ClassRef) {
	c.invalidations++
	affected := make(map[oop.ClassRef]bool, len(subclasses)+1)
	affected[changed] = true
	for _, sc := range subclasses {
		affected[sc] = true
	}
	c.entries.Iter(func(k key, _ entry) (stop bool) {
		if affected[k.class] {
			c.entries.Delete(k)
		}
		return false
	})
}

// InvalidateAll drops every cache entry, the coarse "flush all" spec §4.2
// explicitly permits as acceptable.
func (c *MethodCache) InvalidateAll() {
	c.invalidations++
	c.entries = swiss.NewMap[key, entry](uint32(c.entries.Count()))
}

// Stats returns hit/miss/invalidation counters. No code in this module
// calls it.
func (c *MethodCache) Stats() (hits, misses, invalidations uint64) {
	return c.hits, c.misses, c.invalidations
}

// Len reports the number of live cache entries.
func (c *MethodCache) Len() int { return c.entries.Count() }
