package vkdriver

import (
	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// Kinds of objects which are tracked but never reported as live because
// they are released together with their pool.
const (
	kindDescriptorSet gpu.ObjectKind = -1 - iota
	kindCommandBuffer
	kindQueue
	kindSurface
)

type object struct {
	kind  gpu.ObjectKind
	value any

	// owner is the handle of the pool or swapchain the object was
	// allocated from. Owned objects are released with their owner.
	owner gpu.Handle
}

// objects maps the handles given out by a Device to the Vulkan objects
// behind them. Handles are never reused.
type objects struct {
	next    uint64
	entries map[gpu.Handle]*object
}

func newObjects() *objects {
	return &objects{entries: make(map[gpu.Handle]*object)}
}

func (o *objects) add(kind gpu.ObjectKind, value any, owner gpu.Handle) gpu.Handle {
	o.next++
	h := gpu.Handle(o.next)
	o.entries[h] = &object{kind: kind, value: value, owner: owner}
	return h
}

// remove forgets h and returns the object behind it. Removing the null
// handle or an unknown handle returns false.
func (o *objects) remove(kind gpu.ObjectKind, h gpu.Handle) (*object, bool) {
	obj, ok := o.entries[h]
	if !ok || obj.kind != kind {
		return nil, false
	}
	delete(o.entries, h)
	return obj, true
}

// removeOwned forgets every object owned by owner and returns them.
func (o *objects) removeOwned(owner gpu.Handle) []*object {
	var owned []*object
	for h, obj := range o.entries {
		if obj.owner == owner {
			owned = append(owned, obj)
			delete(o.entries, h)
		}
	}
	return owned
}

// live counts the objects which are not owned by another object.
func (o *objects) live() map[gpu.ObjectKind]int {
	counts := make(map[gpu.ObjectKind]int)
	for _, obj := range o.entries {
		if obj.owner != gpu.NullHandle || obj.kind < 0 {
			continue
		}
		counts[obj.kind]++
	}
	return counts
}

// get returns the value behind h if it is of the expected kind.
func get[T any](o *objects, kind gpu.ObjectKind, h gpu.Handle) (T, error) {
	var zero T
	obj, ok := o.entries[h]
	if !ok || obj.kind != kind {
		return zero, errors.Newf("unknown %s handle %d", kindName(kind), h)
	}
	v, ok := obj.value.(T)
	if !ok {
		return zero, errors.AssertionFailedf("%s handle %d holds %T", kindName(kind), h, obj.value)
	}
	return v, nil
}

// must is get for the command recording functions which cannot return an
// error. An invalid handle there is a programming error.
func must[T any](o *objects, kind gpu.ObjectKind, h gpu.Handle) T {
	v, err := get[T](o, kind, h)
	if err != nil {
		panic(err)
	}
	return v
}

func kindName(kind gpu.ObjectKind) string {
	switch kind {
	case kindDescriptorSet:
		return "descriptor set"
	case kindCommandBuffer:
		return "command buffer"
	case kindQueue:
		return "queue"
	case kindSurface:
		return "surface"
	}
	return kind.String()
}
