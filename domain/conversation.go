package domain

// Conversation holds the ordered message buffer for one conversation.
//
// The buffer is append-only from the live stream and prepend-once from a
// history fetch. Within one conversation, append order equals arrival
// order; the client never reorders.
//
// Conversation is not safe for concurrent use. The multiplexer owns every
// instance and guards access; consumers only ever see snapshots.
type Conversation struct {
	ID          ConversationID
	messages    []Message
	seen        map[string]struct{}
	historyDone bool
}

func NewConversation(id ConversationID) *Conversation {
	return &Conversation{
		ID:   id,
		seen: make(map[string]struct{}),
	}
}

// Append adds a live message at the end of the buffer.
// Duplicates of an already buffered (sender, sentAt, body) are dropped.
// Reports whether the message was actually added.
func (c *Conversation) Append(msg Message) bool {
	key := msg.DedupKey()
	if _, dup := c.seen[key]; dup {
		return false
	}
	c.seen[key] = struct{}{}
	c.messages = append(c.messages, msg)
	return true
}

// SeedHistory places fetched history before any live messages already
// buffered. Only the first call has an effect; a conversation's history
// is seeded at most once. Live messages that duplicate a history entry
// are removed during the merge.
func (c *Conversation) SeedHistory(history []Message) {
	if c.historyDone {
		return
	}
	c.historyDone = true

	merged := make([]Message, 0, len(history)+len(c.messages))
	seen := make(map[string]struct{}, len(history)+len(c.messages))
	for _, msg := range history {
		key := msg.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, msg)
	}
	for _, msg := range c.messages {
		key := msg.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, msg)
	}
	c.messages = merged
	c.seen = seen
}

// HistoryLoaded reports whether SeedHistory has already run.
func (c *Conversation) HistoryLoaded() bool {
	return c.historyDone
}

// Messages returns a copy of the buffer, oldest first.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	return len(c.messages)
}
