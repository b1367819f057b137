package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// DiskStore keeps received files under a single directory. Stored names get
// a uuid prefix so two peers sending the same filename never collide.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (ports.FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Store(filename string, data []byte) (string, error) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}

	name := fmt.Sprintf("%s_%s", uuid.NewString()[:8], base)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return name, nil
}

func (s *DiskStore) Read(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, domain.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *DiskStore) List() ([]domain.FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var out []domain.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *DiskStore) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return domain.ErrFileNotFound
	}
	return err
}

func (s *DiskStore) CleanOlderThan(age time.Duration) ([]string, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-age)
	var removed []string
	for _, info := range infos {
		if info.Modified.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, info.Name)); err != nil {
			continue
		}
		removed = append(removed, info.Name)
	}
	return removed, nil
}

// resolve rejects any name that would escape the store directory.
func (s *DiskStore) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid stored name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}
