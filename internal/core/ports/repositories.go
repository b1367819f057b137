package ports

import (
	"context"
	"time"

	"lanlink/internal/core/domain"
)

// MessageHistory persists received messages. Implementations must be safe
// for concurrent use.
type MessageHistory interface {
	Append(ctx context.Context, msg domain.StoredMessage) error
	// Query returns messages exchanged with peerIP, oldest first. A limit
	// of 0 returns everything.
	Query(ctx context.Context, peerIP string, limit int) ([]domain.StoredMessage, error)
	MarkRead(ctx context.Context, peerIP string) error
	Stats(ctx context.Context, peerIP string) (domain.MessageStats, error)
	Close() error
}

// FileStore keeps received file payloads on behalf of the transport. Store
// must pick a name that cannot collide with an existing file.
type FileStore interface {
	Store(filename string, data []byte) (string, error)
	Read(name string) ([]byte, error)
	List() ([]domain.FileInfo, error)
	Delete(name string) error
	CleanOlderThan(age time.Duration) ([]string, error)
}
