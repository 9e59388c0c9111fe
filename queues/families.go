package queues

import (
	"github.com/ironsmile/vulkan-render-go/optional"
)

// FamilyIndices holds the indexes of Vulkan queue families needed by the renderer.
type FamilyIndices struct {

	// Graphics is the index of the graphics queue family.
	Graphics optional.Optional[uint32]

	// Present is the index of the queue family used for presenting to the drawing
	// surface.
	Present optional.Optional[uint32]

	// Transfer is the index of the queue family used for staged uploads. It
	// is always the graphics family so that uploaded resources need no queue
	// ownership transfer.
	Transfer optional.Optional[uint32]
}

// Flags are the capabilities of one queue family.
type Flags struct {
	Graphics bool
	Transfer bool
	Present  bool
}

// Find picks the families the renderer needs from the capabilities of every
// family of a physical device. A family which supports both graphics and
// presentation is preferred so that swapchain images need not be shared.
func Find(families []Flags) FamilyIndices {
	var indices FamilyIndices

	for i, family := range families {
		index := uint32(i)
		if family.Graphics && family.Present {
			indices.Graphics.Set(index)
			indices.Present.Set(index)
			indices.Transfer.Set(index)
			return indices
		}
	}

	for i, family := range families {
		index := uint32(i)
		if family.Graphics && !indices.Graphics.HasValue() {
			indices.Graphics.Set(index)
		}
		if family.Present && !indices.Present.HasValue() {
			indices.Present.Set(index)
		}
	}
	if indices.Graphics.HasValue() {
		indices.Transfer.Set(indices.Graphics.Get())
	}

	return indices
}

// IsComplete returns true if all families have been set.
func (f *FamilyIndices) IsComplete() bool {
	return f.Graphics.HasValue() && f.Present.HasValue() && f.Transfer.HasValue()
}

// Unique returns the distinct family indices in use, graphics first.
func (f *FamilyIndices) Unique() []uint32 {
	var unique []uint32
	for _, o := range []optional.Optional[uint32]{f.Graphics, f.Present, f.Transfer} {
		if !o.HasValue() {
			continue
		}
		seen := false
		for _, u := range unique {
			if u == o.Get() {
				seen = true
				break
			}
		}
		if !seen {
			unique = append(unique, o.Get())
		}
	}
	return unique
}
