package rendercache

import (
	"container/list"
	"sync"
)

// memEntry is one node in the in-memory LRU tier.
type memEntry struct {
	messageID string
	artifact  *Artifact
	cost      int64
}

// memTier is a bounded in-memory LRU cache keyed by messageId, evicted by
// both entry count and cumulative byte cost.
type memTier struct {
	mu        sync.Mutex
	order     *list.List
	index     map[string]*list.Element
	maxItems  int
	maxBytes  int64
	usedBytes int64
}

func newMemTier(maxItems int, maxBytes int64) *memTier {
	return &memTier{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxItems: maxItems,
		maxBytes: maxBytes,
	}
}

func (m *memTier) get(messageID string) (*Artifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.index[messageID]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*memEntry).artifact, true
}

func (m *memTier) put(messageID string, artifact *Artifact, cost int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.index[messageID]; ok {
		entry := el.Value.(*memEntry)
		m.usedBytes -= entry.cost
		entry.artifact = artifact
		entry.cost = cost
		m.usedBytes += cost
		m.order.MoveToFront(el)
	} else {
		entry := &memEntry{messageID: messageID, artifact: artifact, cost: cost}
		el := m.order.PushFront(entry)
		m.index[messageID] = el
		m.usedBytes += cost
	}

	m.evictLocked()
}

func (m *memTier) evictLocked() {
	for (m.maxItems > 0 && m.order.Len() > m.maxItems) || (m.maxBytes > 0 && m.usedBytes > m.maxBytes) {
		back := m.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*memEntry)
		m.order.Remove(back)
		delete(m.index, entry.messageID)
		m.usedBytes -= entry.cost
	}
}

func (m *memTier) delete(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[messageID]; ok {
		entry := el.Value.(*memEntry)
		m.order.Remove(el)
		delete(m.index, messageID)
		m.usedBytes -= entry.cost
	}
}

func (m *memTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.index = make(map[string]*list.Element)
	m.usedBytes = 0
}

func (m *memTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
