package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

const keepBackups = 5

// FileMessageHistory persists history as one JSON document under the data
// directory. Every mutation snapshots the previous file into backups/ before
// writing; a corrupt history file is restored from the newest backup.
type FileMessageHistory struct {
	path      string
	backupDir string
	logger    *zap.SugaredLogger

	mu sync.Mutex
}

func NewFileMessageHistory(dataDir string, logger *zap.SugaredLogger) (ports.MessageHistory, error) {
	backupDir := filepath.Join(dataDir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileMessageHistory{
		path:      filepath.Join(dataDir, "messages.json"),
		backupDir: backupDir,
		logger:    logger,
	}, nil
}

func (h *FileMessageHistory) Append(_ context.Context, msg domain.StoredMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	messages := h.load()
	messages = append(messages, msg)
	return h.save(messages)
}

func (h *FileMessageHistory) Query(_ context.Context, peerIP string, limit int) ([]domain.StoredMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []domain.StoredMessage
	for _, msg := range h.load() {
		if msg.SenderIP == peerIP {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *FileMessageHistory) MarkRead(_ context.Context, peerIP string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	messages := h.load()
	changed := false
	for i := range messages {
		if messages[i].SenderIP == peerIP && !messages[i].Read {
			messages[i].Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return h.save(messages)
}

func (h *FileMessageHistory) Stats(_ context.Context, peerIP string) (domain.MessageStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stats domain.MessageStats
	for _, msg := range h.load() {
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

func (h *FileMessageHistory) Close() error { return nil }

// load reads the history document. Callers hold h.mu.
func (h *FileMessageHistory) load() []domain.StoredMessage {
	messages, err := h.read()
	if err == nil {
		return messages
	}
	if os.IsNotExist(err) {
		return nil
	}

	h.logger.Warnw("history file unreadable, restoring from backup", "error", err)
	if restoreErr := h.restoreFromBackup(); restoreErr != nil {
		h.logger.Errorw("failed to restore history from backup", "error", restoreErr)
		return nil
	}
	messages, err = h.read()
	if err != nil {
		h.logger.Errorw("restored history still unreadable", "error", err)
		return nil
	}
	return messages
}

func (h *FileMessageHistory) read() ([]domain.StoredMessage, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, err
	}
	var messages []domain.StoredMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// save backs up the previous document, then writes the new one. Callers
// hold h.mu.
func (h *FileMessageHistory) save(messages []domain.StoredMessage) error {
	h.backup()

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

func (h *FileMessageHistory) backup() {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return
	}

	stamp := time.Now().UTC().Format("20060102_150405.000000000")
	name := filepath.Join(h.backupDir, fmt.Sprintf("messages_%s.json", stamp))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		h.logger.Warnw("failed to write history backup", "error", err)
		return
	}

	// Keep only the newest backups.
	backups := h.backups()
	for i := 0; i < len(backups)-keepBackups; i++ {
		os.Remove(backups[i])
	}
}

func (h *FileMessageHistory) restoreFromBackup() error {
	backups := h.backups()
	if len(backups) == 0 {
		return fmt.Errorf("no backups available")
	}
	latest := backups[len(backups)-1]

	data, err := os.ReadFile(latest)
	if err != nil {
		return fmt.Errorf("failed to read backup %s: %w", latest, err)
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	h.logger.Infow("history restored from backup", "backup", filepath.Base(latest))
	return nil
}

// backups returns the backup paths sorted oldest first. The timestamped
// names make lexical order chronological.
func (h *FileMessageHistory) backups() []string {
	matches, err := filepath.Glob(filepath.Join(h.backupDir, "messages_*.json"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}
