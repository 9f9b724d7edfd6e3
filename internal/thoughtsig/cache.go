// Package thoughtsig caches Gemini's opaque "thought signature"
// reasoning artifacts across a conversation so they can be echoed back
// on the next turn, per the OpenAI-compatibility convention of
// extra_content.google.thought_signature (response) and
// extra_body.google.thought_signature (request).
package thoughtsig

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCapacity = 4096
	DefaultTTL      = 30 * time.Minute
)

// Entry is one cached set of signatures for a single assistant
// message.
type Entry struct {
	MessageID      string
	ConversationID string
	Artifacts      map[string]string // tool_call_id -> signature
	Timestamp      time.Time
}

// Cache is a TTL+LRU store keyed by message id, with secondary
// indices by tool-call id and conversation id for overlap-based
// retrieval. All three structures are guarded by one mutex since they
// are always mutated together.
type Cache struct {
	mu sync.RWMutex

	lru *lru.LRU[string, *Entry]

	byToolCall     map[string]map[string]bool // tool_call_id -> set of message ids
	byConversation map[string][]string        // conversation id -> message ids, most recent last
}

func New() *Cache {
	c := &Cache{
		byToolCall:     make(map[string]map[string]bool),
		byConversation: make(map[string][]string),
	}
	c.lru = lru.NewLRU[string, *Entry](DefaultCapacity, c.onEvict, DefaultTTL)
	return c
}

func (c *Cache) onEvict(messageID string, entry *Entry) {
	// Called with c.mu already held by the caller of the lru method
	// that triggered eviction (Add), so only mutate the auxiliary
	// indices here, never call back into the lru.
	for toolCallID := range entry.Artifacts {
		if set, ok := c.byToolCall[toolCallID]; ok {
			delete(set, messageID)
			if len(set) == 0 {
				delete(c.byToolCall, toolCallID)
			}
		}
	}
	if ids, ok := c.byConversation[entry.ConversationID]; ok {
		c.byConversation[entry.ConversationID] = removeString(ids, messageID)
	}
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Put commits a new entry, indexing it by every tool_call_id it
// carries and by conversation id. An entry with a zero Timestamp is
// stamped with the current time.
func (c *Cache) Put(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	c.lru.Add(entry.MessageID, entry)
	for toolCallID := range entry.Artifacts {
		set, ok := c.byToolCall[toolCallID]
		if !ok {
			set = make(map[string]bool)
			c.byToolCall[toolCallID] = set
		}
		set[entry.MessageID] = true
	}
	c.byConversation[entry.ConversationID] = append(c.byConversation[entry.ConversationID], entry.MessageID)
}

// Retrieve builds its candidate set as the union, over every id in
// toolCallIDs, of byToolCall[id] -- the entries that carry a signature
// for at least one of the ids being looked up -- then, when
// conversationID is non-empty, intersects that set with
// byConversation[conversationID]. An empty conversationID means
// any-match: candidates from any conversation are considered. Among
// candidates, the entry with the greatest overlap against toolCallIDs
// wins; ties break on most recent timestamp.
func (c *Cache) Retrieve(conversationID string, toolCallIDs []string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(toolCallIDs) == 0 {
		return nil
	}

	var convSet map[string]bool
	if conversationID != "" {
		ids, ok := c.byConversation[conversationID]
		if !ok {
			return nil
		}
		convSet = make(map[string]bool, len(ids))
		for _, id := range ids {
			convSet[id] = true
		}
	}

	want := make(map[string]bool, len(toolCallIDs))
	for _, id := range toolCallIDs {
		want[id] = true
	}

	candidates := make(map[string]bool)
	for _, toolCallID := range toolCallIDs {
		for msgID := range c.byToolCall[toolCallID] {
			if convSet != nil && !convSet[msgID] {
				continue
			}
			candidates[msgID] = true
		}
	}

	var best *Entry
	bestOverlap := -1
	for msgID := range candidates {
		entry, ok := c.lru.Peek(msgID)
		if !ok {
			continue
		}
		overlap := 0
		for id := range entry.Artifacts {
			if want[id] {
				overlap++
			}
		}
		if overlap > bestOverlap || (overlap == bestOverlap && best != nil && entry.Timestamp.After(best.Timestamp)) {
			best = entry
			bestOverlap = overlap
		}
	}
	return best
}

// Len reports the number of entries currently cached, mainly for
// tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
