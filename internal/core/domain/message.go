package domain

import "time"

// StoredMessage is one history entry for a received text or file message.
type StoredMessage struct {
	ID             string    `json:"id"`
	SenderIP       string    `json:"sender_ip"`
	SenderUsername string    `json:"sender_username"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// FileInfo describes one stored file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// MessageStats summarizes history for a peer, or for all peers when the
// peer filter is empty.
type MessageStats struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
	Texts  int `json:"texts"`
	Files  int `json:"files"`
}
