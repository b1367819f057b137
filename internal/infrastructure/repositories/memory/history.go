package memory

import (
	"context"
	"sync"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// MemoryMessageHistory keeps history in process memory. It is the fallback
// backend and the one tests use.
type MemoryMessageHistory struct {
	mu       sync.RWMutex
	messages []domain.StoredMessage
}

func NewMemoryMessageHistory() ports.MessageHistory {
	return &MemoryMessageHistory{}
}

func (h *MemoryMessageHistory) Append(_ context.Context, msg domain.StoredMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

func (h *MemoryMessageHistory) Query(_ context.Context, peerIP string, limit int) ([]domain.StoredMessage, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []domain.StoredMessage
	for _, msg := range h.messages {
		if msg.SenderIP == peerIP {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *MemoryMessageHistory) MarkRead(_ context.Context, peerIP string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.messages {
		if h.messages[i].SenderIP == peerIP {
			h.messages[i].Read = true
		}
	}
	return nil
}

func (h *MemoryMessageHistory) Stats(_ context.Context, peerIP string) (domain.MessageStats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var stats domain.MessageStats
	for _, msg := range h.messages {
		if peerIP != "" && msg.SenderIP != peerIP {
			continue
		}
		stats.Total++
		if !msg.Read {
			stats.Unread++
		}
		switch msg.Type {
		case "text":
			stats.Texts++
		case "file":
			stats.Files++
		}
	}
	return stats, nil
}

func (h *MemoryMessageHistory) Close() error { return nil }
