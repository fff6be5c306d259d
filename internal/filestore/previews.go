package filestore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"coursechat/internal/storage"
)

// PreviewIndex persists preview metadata so files left behind by a crashed
// run can be found again.
type PreviewIndex interface {
	UpsertPreview(preview storage.DBPreview) error
	DeletePreview(id string) error
	ListPreviews() ([]storage.DBPreview, error)
}

// Previews keeps local copies of files attached to optimistic messages
// until they are released.
type Previews struct {
	files FileStore
	index PreviewIndex

	mu   sync.Mutex
	live map[string]storage.DBPreview
}

func NewPreviews(files FileStore, index PreviewIndex) *Previews {
	return &Previews{
		files: files,
		index: index,
		live:  make(map[string]storage.DBPreview),
	}
}

// Add copies r into the store under preview.ID and records it.
func (p *Previews) Add(preview storage.DBPreview, r io.Reader) (storage.DBPreview, error) {
	if preview.ID == "" {
		return preview, errors.New("preview id is required")
	}

	size, err := p.files.Save(r, preview.ID)
	if err != nil {
		return preview, fmt.Errorf("failed to save preview: %w", err)
	}
	preview.Path = p.files.Path(preview.ID)
	preview.Size = size
	preview.CreatedAt = time.Now().Unix()

	if p.index != nil {
		if err := p.index.UpsertPreview(preview); err != nil {
			_ = p.files.Remove(preview.ID)
			return preview, fmt.Errorf("failed to record preview: %w", err)
		}
	}

	p.mu.Lock()
	p.live[preview.ID] = preview
	p.mu.Unlock()
	return preview, nil
}

func (p *Previews) Open(id string) (io.ReadCloser, error) {
	return p.files.Get(id)
}

func (p *Previews) Get(id string) (storage.DBPreview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	preview, ok := p.live[id]
	return preview, ok
}

// Release deletes one preview file and its record.
func (p *Previews) Release(id string) error {
	p.mu.Lock()
	delete(p.live, id)
	p.mu.Unlock()

	err := p.files.Remove(id)
	if p.index != nil {
		err = errors.Join(err, p.index.DeletePreview(id))
	}
	return err
}

// ReleaseAll deletes every preview this process created.
func (p *Previews) ReleaseAll() error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := p.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep deletes previews recorded by earlier runs. It is called once at
// startup, before any preview of the current run exists.
func (p *Previews) Sweep() int {
	if p.index == nil {
		return 0
	}
	stale, err := p.index.ListPreviews()
	if err != nil {
		slog.Error("failed to list previews", "error", err)
		return 0
	}

	removed := 0
	for _, preview := range stale {
		if err := p.Release(preview.ID); err != nil {
			slog.Warn("failed to release stale preview", "id", preview.ID, "error", err)
			continue
		}
		removed++
	}
	return removed
}
