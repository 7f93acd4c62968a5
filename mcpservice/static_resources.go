package mcpservice

import (
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-retail-demo/mcp"
)

// StaticResource pairs a resource descriptor with its contents.
type StaticResource struct {
	Descriptor mcp.Resource
	Contents   []mcp.ResourceContents
}

// TextResource is a convenience constructor for a single-part text resource.
func TextResource(res mcp.Resource, text string) StaticResource {
	return StaticResource{
		Descriptor: res,
		Contents: []mcp.ResourceContents{{
			URI:      res.URI,
			MimeType: res.MimeType,
			Text:     text,
			Meta:     cloneMeta(res.Meta),
		}},
	}
}

// ResourcesContainer owns an ordered, threadsafe set of resources and their
// contents. Replacing the set signals subscribers so transports can emit
// notifications/resources/list_changed.
type ResourcesContainer struct {
	mu        sync.RWMutex
	resources []mcp.Resource
	contents  map[string][]mcp.ResourceContents

	notifier ChangeNotifier
}

// NewResourcesContainer constructs a container holding defs.
func NewResourcesContainer(defs ...StaticResource) *ResourcesContainer {
	sr := &ResourcesContainer{}
	sr.set(defs)
	return sr
}

func (sr *ResourcesContainer) set(defs []StaticResource) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.resources = make([]mcp.Resource, 0, len(defs))
	sr.contents = make(map[string][]mcp.ResourceContents, len(defs))
	for _, d := range defs {
		uri := d.Descriptor.URI
		if _, dup := sr.contents[uri]; !dup {
			sr.resources = append(sr.resources, d.Descriptor)
		}
		c := make([]mcp.ResourceContents, len(d.Contents))
		copy(c, d.Contents)
		sr.contents[uri] = c
	}
}

// Replace atomically swaps the resource set and notifies subscribers.
func (sr *ResourcesContainer) Replace(defs ...StaticResource) {
	sr.set(defs)
	sr.notifier.Notify()
}

// ListResources returns a copy of the descriptors in declaration order.
func (sr *ResourcesContainer) ListResources() []mcp.Resource {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]mcp.Resource, len(sr.resources))
	copy(out, sr.resources)
	return out
}

// ReadResource returns a copy of the contents for uri or an error wrapping
// ErrUnknownResource.
func (sr *ResourcesContainer) ReadResource(uri string) ([]mcp.ResourceContents, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	c, ok := sr.contents[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}
	out := make([]mcp.ResourceContents, len(c))
	copy(out, c)
	return out, nil
}

// Subscriber returns a channel signalled after every Replace.
func (sr *ResourcesContainer) Subscriber() <-chan struct{} {
	return sr.notifier.Subscriber()
}

// Unsubscribe releases a channel returned by Subscriber.
func (sr *ResourcesContainer) Unsubscribe(ch <-chan struct{}) {
	sr.notifier.Unsubscribe(ch)
}

// Close closes every subscriber channel.
func (sr *ResourcesContainer) Close() {
	sr.notifier.Close()
}
