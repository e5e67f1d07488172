// Package attachment packages file payloads for submission and manages
// the local previews shown before the server confirms a message.
package attachment

import (
	"bytes"
	"chatgogo/messenger/internal/models"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultMaxSize caps a single attachment.
const DefaultMaxSize = 25 << 20

var (
	ErrEmptyFile       = errors.New("attachment: file is empty")
	ErrTooLarge        = errors.New("attachment: file exceeds size limit")
	ErrPreviewReleased = errors.New("attachment: preview released")
)

// File is a user-selected payload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// ReadFile loads a file from disk.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("attachment: read %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// Preview is a revocable local handle to an image's bytes. It must be
// released once the submission completes, fails or is replaced.
type Preview struct {
	id       string
	data     []byte
	mu       sync.Mutex
	released bool
	onClose  func(*Preview)
}

// Ref is the local reference placed in a pending message's fileUrl.
func (p *Preview) Ref() string {
	return "preview:" + p.id
}

// Open returns a reader over the image bytes.
func (p *Preview) Open() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil, ErrPreviewReleased
	}
	return bytes.NewReader(p.data), nil
}

// Released reports whether Release has been called.
func (p *Preview) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.released
}

// Release frees the handle. It is safe to call more than once.
func (p *Preview) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.data = nil
	p.mu.Unlock()

	if p.onClose != nil {
		p.onClose(p)
	}
}

// Prepared is a file ready to ride along with a message submission.
type Prepared struct {
	File     File
	Kind     models.Kind
	MimeType string
	// Preview is set for images only.
	Preview *Preview
}

// Attachment returns the metadata shown on the pending message.
func (p *Prepared) Attachment() *models.Attachment {
	att := &models.Attachment{
		FileName: p.File.Name,
		MimeType: p.MimeType,
		Size:     int64(len(p.File.Data)),
	}
	if p.Preview != nil {
		att.FileURL = p.Preview.Ref()
	}
	return att
}

// Release frees the preview, if any.
func (p *Prepared) Release() {
	if p != nil && p.Preview != nil {
		p.Preview.Release()
	}
}

// Uploader prepares attachments and tracks the previews it hands out. It
// never performs network I/O; the bytes travel with the sender's
// multipart submission.
type Uploader struct {
	MaxSize int64

	mu      sync.Mutex
	active  map[string]*Preview
	current *Prepared
}

// NewUploader returns an Uploader with the default size limit.
func NewUploader() *Uploader {
	return &Uploader{
		MaxSize: DefaultMaxSize,
		active:  make(map[string]*Preview),
	}
}

// Prepare classifies f and, for images, creates a preview handle.
func (u *Uploader) Prepare(f File) (*Prepared, error) {
	if len(f.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if u.MaxSize > 0 && int64(len(f.Data)) > u.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(f.Data))
	}

	mt := detectMimeType(f)
	p := &Prepared{
		File:     f,
		MimeType: mt,
		Kind:     models.KindFile,
	}
	if models.IsImage(mt, f.Name) {
		p.Kind = models.KindImage
		p.Preview = u.newPreview(f.Data)
	}
	return p, nil
}

// Select prepares f as the current selection, releasing the preview of
// the selection it replaces.
func (u *Uploader) Select(f File) (*Prepared, error) {
	p, err := u.Prepare(f)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	prev := u.current
	u.current = p
	u.mu.Unlock()

	prev.Release()
	return p, nil
}

// Current returns the selection made with Select, if any.
func (u *Uploader) Current() *Prepared {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.current
}

// Release frees p's preview and clears it as the current selection.
func (u *Uploader) Release(p *Prepared) {
	if p == nil {
		return
	}
	u.mu.Lock()
	if u.current == p {
		u.current = nil
	}
	u.mu.Unlock()

	p.Release()
}

// ReleaseAll frees every outstanding preview.
func (u *Uploader) ReleaseAll() {
	u.mu.Lock()
	previews := make([]*Preview, 0, len(u.active))
	for _, p := range u.active {
		previews = append(previews, p)
	}
	u.current = nil
	u.mu.Unlock()

	for _, p := range previews {
		p.Release()
	}
}

// Active is the number of previews not yet released.
func (u *Uploader) Active() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.active)
}

func (u *Uploader) newPreview(data []byte) *Preview {
	p := &Preview{
		id:   uuid.NewString(),
		data: data,
		onClose: func(p *Preview) {
			u.mu.Lock()
			delete(u.active, p.id)
			u.mu.Unlock()
		},
	}

	u.mu.Lock()
	if u.active == nil {
		u.active = make(map[string]*Preview)
	}
	u.active[p.id] = p
	u.mu.Unlock()
	return p
}

// detectMimeType sniffs the content first, then falls back to the
// declared type and the file extension.
func detectMimeType(f File) string {
	detected := mimetype.Detect(f.Data)
	if !detected.Is("application/octet-stream") && !detected.Is("text/plain") {
		return detected.String()
	}
	if f.MimeType != "" {
		return f.MimeType
	}
	if byExt := mime.TypeByExtension(filepath.Ext(f.Name)); byExt != "" {
		return byExt
	}
	return detected.String()
}
