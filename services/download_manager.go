package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/utils/cache"
	"github.com/sahilchouksey/school-connect/utils/pdfvalidation"
)

const partialSuffix = ".part"

// DownloadRecord is a finished chapter download, kept in the device store
type DownloadRecord struct {
	ChapterID    string    `json:"chapterId"`
	Path         string    `json:"path"`
	Pages        int       `json:"pages"`
	Bytes        int64     `json:"bytes"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Download is an in-flight chapter transfer
type Download struct {
	ChapterID string

	cancel   context.CancelFunc
	done     chan struct{}
	canceled atomic.Bool
	written  atomic.Int64
	total    atomic.Int64

	record *DownloadRecord
	err    error
}

// Cancel aborts the transfer. The partial file is deleted before Wait returns.
func (d *Download) Cancel() {
	d.canceled.Store(true)
	d.cancel()
}

// Done is closed when the download finished, failed or was canceled
func (d *Download) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the download ends or ctx is done
func (d *Download) Wait(ctx context.Context) (*DownloadRecord, error) {
	select {
	case <-d.done:
		return d.record, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Progress returns bytes written and the expected total, -1 when unknown
func (d *Download) Progress() (int64, int64) {
	return d.written.Load(), d.total.Load()
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// DownloadManager downloads chapter files for one device
type DownloadManager struct {
	client *resty.Client
	dir    string
	device cache.DeviceStore
	limits pdfvalidation.PDFLimits
	now    func() time.Time

	mu     sync.Mutex
	active map[string]*Download
}

// NewDownloadManager stores files under dir and records them in device
func NewDownloadManager(client *resty.Client, dir string, device cache.DeviceStore) *DownloadManager {
	return &DownloadManager{
		client: client,
		dir:    dir,
		device: device,
		limits: pdfvalidation.ChapterLimits,
		now:    time.Now,
		active: map[string]*Download{},
	}
}

// Start begins downloading chapter in the background. The transfer is detached from ctx
// cancellation; use Cancel to stop it. An in-flight chapter returns its existing handle.
func (m *DownloadManager) Start(ctx context.Context, chapter model.Chapter) (*Download, error) {
	if chapter.FileURL == "" {
		return nil, fmt.Errorf("chapter %s has no file", chapter.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.active[chapter.ID]; ok {
		return d, nil
	}

	dlCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &Download{
		ChapterID: chapter.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	d.total.Store(-1)
	m.active[chapter.ID] = d

	go m.run(dlCtx, d, chapter)
	return d, nil
}

// Cancel cancels the in-flight download of chapterID and reports whether there was one
func (m *DownloadManager) Cancel(chapterID string) bool {
	m.mu.Lock()
	d, ok := m.active[chapterID]
	m.mu.Unlock()

	if ok {
		d.Cancel()
	}
	return ok
}

// CancelAll cancels every in-flight download and waits for them
func (m *DownloadManager) CancelAll() {
	m.mu.Lock()
	downloads := make([]*Download, 0, len(m.active))
	for _, d := range m.active {
		downloads = append(downloads, d)
	}
	m.mu.Unlock()

	for _, d := range downloads {
		d.Cancel()
		<-d.done
	}
}

// Active returns the in-flight download of chapterID
func (m *DownloadManager) Active(chapterID string) (*Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[chapterID]
	return d, ok
}

// List returns the finished downloads of the device, newest first
func (m *DownloadManager) List(ctx context.Context) ([]DownloadRecord, error) {
	var records []DownloadRecord
	err := m.device.HGetAllJSON(ctx, cache.KeyDownloads, func(_ string, raw []byte) error {
		var rec DownloadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].DownloadedAt.After(records[j].DownloadedAt) })
	return records, nil
}

// Remove deletes a finished download's file and record
func (m *DownloadManager) Remove(ctx context.Context, chapterID string) error {
	final := m.finalPath(chapterID)
	if err := os.Remove(final); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove download: %w", err)
	}
	return m.device.HDel(ctx, cache.KeyDownloads, chapterID)
}

func (m *DownloadManager) finalPath(chapterID string) string {
	return filepath.Join(m.dir, safeFileName(chapterID)+".pdf")
}

func (m *DownloadManager) run(ctx context.Context, d *Download, chapter model.Chapter) {
	defer close(d.done)

	record, err := m.fetch(ctx, d, chapter)

	m.mu.Lock()
	if m.active[chapter.ID] == d {
		delete(m.active, chapter.ID)
	}
	m.mu.Unlock()

	if err != nil {
		if d.canceled.Load() {
			downloadsTotal.WithLabelValues("canceled").Inc()
			d.err = ErrDownloadCanceled
			return
		}
		downloadsTotal.WithLabelValues("failed").Inc()
		log.Printf("Warning: download of chapter %s failed: %v", chapter.ID, err)
		d.err = err
		return
	}

	downloadsTotal.WithLabelValues("completed").Inc()
	if err := m.device.HSetJSON(ctx, cache.KeyDownloads, chapter.ID, record); err != nil {
		log.Printf("Warning: failed to record download of chapter %s: %v", chapter.ID, err)
	}
	d.record = record
}

func (m *DownloadManager) fetch(ctx context.Context, d *Download, chapter model.Chapter) (*DownloadRecord, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	final := m.finalPath(chapter.ID)
	part := final + partialSuffix

	resp, err := m.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(chapter.FileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to request chapter file: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("chapter file returned status %d", resp.StatusCode())
	}
	if resp.RawResponse != nil {
		d.total.Store(resp.RawResponse.ContentLength)
	}

	f, err := os.Create(part)
	if err != nil {
		return nil, fmt.Errorf("failed to create partial file: %w", err)
	}

	n, copyErr := io.Copy(f, &countingReader{r: body, n: &d.written})
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && ctx.Err() != nil {
		copyErr = ctx.Err()
	}
	if copyErr != nil {
		_ = os.Remove(part)
		return nil, fmt.Errorf("failed to write chapter file: %w", copyErr)
	}

	result, err := pdfvalidation.ValidateFile(part, m.limits)
	if err != nil {
		_ = os.Remove(part)
		return nil, err
	}
	if !result.Valid {
		_ = os.Remove(part)
		return nil, fmt.Errorf("invalid chapter file: %s", result.Error)
	}

	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return nil, fmt.Errorf("failed to finalize chapter file: %w", err)
	}

	return &DownloadRecord{
		ChapterID:    chapter.ID,
		Path:         final,
		Pages:        result.PageCount,
		Bytes:        n,
		DownloadedAt: m.now(),
	}, nil
}

// safeFileName keeps ids made of [A-Za-z0-9_-] as they are. Any other id is cleaned and
// suffixed with a hash of the original after a dot, which clean ids never contain, so
// distinct ids never share a file.
func safeFileName(id string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if clean == id && id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return clean + "." + hex.EncodeToString(sum[:8])
}

// CleanupPartialDownloads removes partial files under root not modified within olderThan
func CleanupPartialDownloads(root string, olderThan time.Duration, now time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partialSuffix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) < olderThan {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}
