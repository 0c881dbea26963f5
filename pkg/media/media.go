package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pairchat/pkg/logger"
	"pairchat/pkg/models"
	"pairchat/pkg/utils"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("media: upload exceeds size limit")

// Storage persists message attachments and hands back the URL clients embed
// in messages.
type Storage interface {
	// Save stores the attachment and returns its public URL and the
	// message content type inferred from the filename.
	Save(ctx context.Context, filename string, r io.Reader) (url string, kind models.ContentType, err error)
}

// KindFromFilename maps a filename extension to the message content type.
// Unknown extensions are treated as images, matching how clients render
// unrecognized attachments.
func KindFromFilename(name string) models.ContentType {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if strings.HasPrefix(ct, "video/") {
		return models.ContentVideo
	}
	return models.ContentImage
}

// Disk stores attachments on the local filesystem under a flat directory
// and serves them from BaseURL.
type Disk struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
}

// NewDisk creates the storage directory when missing.
func NewDisk(dir, baseURL string, maxBytes int64) (*Disk, error) {
	if dir == "" {
		dir = "./media"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &Disk{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), MaxBytes: maxBytes}, nil
}

// Save streams the attachment to disk under a collision-free name. Writes
// beyond MaxBytes abort the upload and remove the partial file.
func (d *Disk) Save(ctx context.Context, filename string, r io.Reader) (string, models.ContentType, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	base := filepath.Base(filename)
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	name := fmt.Sprintf("%d-%s%s", time.Now().UTC().UnixNano(), utils.ShortToken(), filepath.Ext(base))
	path := filepath.Join(d.Dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", err
	}

	limit := d.MaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		logger.Warn("media_save_failed", "name", base, "error", err)
		return "", "", err
	}

	logger.Info("media_saved", "name", name, "bytes", n)
	return d.BaseURL + "/" + name, KindFromFilename(base), nil
}
