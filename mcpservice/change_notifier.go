package mcpservice

import "sync"

// ChangeNotifier is a small in-process fan-out used to tell open connections
// that a list has changed. The zero value is ready to use.
type ChangeNotifier struct {
	mu          sync.Mutex
	subscribers []chan struct{}
	closed      bool
}

// Notify signals every subscriber without blocking. A subscriber that has
// not drained its previous signal is skipped; one pending signal is enough.
func (cn *ChangeNotifier) Notify() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscriber returns a channel with capacity 1 that receives a signal on
// each Notify. After Close it returns a closed channel.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (cn *ChangeNotifier) Unsubscribe(ch <-chan struct{}) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	for i, c := range cn.subscribers {
		if c == ch {
			cn.subscribers = append(cn.subscribers[:i], cn.subscribers[i+1:]...)
			close(c)
			return
		}
	}
}

// Close closes every subscriber channel. Later calls to Notify are no-ops.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
