package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/logger"
)

type DownloadResult struct {
	reader      io.ReadCloser
	contentType string
	filename    string
	size        int64
	maxSize     int64
	fs          adapter.FileSystem
}

// Reader returns the io.ReadCloser for streaming the download
func (d *DownloadResult) Reader() io.ReadCloser {
	return d.reader
}

// ContentType returns the content type reported by the server
func (d *DownloadResult) ContentType() string {
	return d.contentType
}

// Filename returns the server-suggested filename: the Content-Disposition
// name when present, otherwise the URL path's base. Empty when neither
// yields a usable name.
func (d *DownloadResult) Filename() string {
	return d.filename
}

// Size returns the declared size of the download (may be -1 if unknown)
func (d *DownloadResult) Size() int64 {
	return d.size
}

// AsFile streams the download to path. The bytes land in a ".part" buffer
// first and are renamed over path only after a full flush, so a crashed
// download never leaves a half-written file behind.
func (d *DownloadResult) AsFile(path string) error {
	tmp := path + ".part"

	file, err := d.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	src := io.Reader(d.reader)
	if d.maxSize > 0 {
		src = io.LimitReader(d.reader, d.maxSize+1)
	}

	written, err := io.Copy(file, src)
	if err != nil {
		d.discard(file, tmp)
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if d.maxSize > 0 && written > d.maxSize {
		d.discard(file, tmp)
		return fmt.Errorf("download exceeds size limit of %d bytes", d.maxSize)
	}

	if err := file.Sync(); err != nil {
		d.discard(file, tmp)
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("failed to finalize file: %w", err)
	}

	logger.Debug("Saved download to file",
		zap.String("path", path),
		zap.Int64("bytes", written),
	)

	return nil
}

func (d *DownloadResult) discard(file adapter.File, tmp string) {
	if err := file.Close(); err != nil {
		logger.Warn("failed to close file", zap.Error(err), zap.String("path", tmp))
	}
	_ = d.fs.Remove(tmp)
}

// Close closes the underlying reader
func (d *DownloadResult) Close() error {
	if d.reader != nil {
		return d.reader.Close()
	}
	return nil
}

// Downloader defines the interface for downloading media files
type Downloader interface {
	// Download downloads a media file from a URL and returns a streaming reader
	Download(ctx context.Context, url string) (*DownloadResult, error)
}

type downloader struct {
	httpClient adapter.HTTPClient
	fs         adapter.FileSystem
	maxSize    int64
}

// NewDownloader creates a Downloader. Downloads larger than maxSize bytes
// are refused; 0 disables the limit.
func NewDownloader(httpClient adapter.HTTPClient, fs adapter.FileSystem, maxSize int64) Downloader {
	return &downloader{
		httpClient: httpClient,
		fs:         fs,
		maxSize:    maxSize,
	}
}

// Download downloads a media file from a URL and returns a streaming reader
func (d *downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	logger.Info("Downloading file", zap.String("url", rawURL))

	// Use the injected HTTP client for streaming downloads
	resp, err := d.httpClient.GetResponse(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	contentLength := resp.ContentLength

	if d.maxSize > 0 && contentLength > d.maxSize {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", zap.Error(err), zap.String("url", rawURL))
		}
		return nil, fmt.Errorf("download of %d bytes exceeds size limit of %d bytes", contentLength, d.maxSize)
	}

	logger.Info("Download started",
		zap.String("url", rawURL),
		zap.String("contentType", contentType),
		zap.Int64("contentLength", contentLength),
	)

	return &DownloadResult{
		reader:      resp.Body,
		contentType: contentType,
		filename:    suggestedFilename(resp.Header.Get("Content-Disposition"), rawURL),
		size:        contentLength,
		maxSize:     d.maxSize,
		fs:          d.fs,
	}, nil
}

// suggestedFilename extracts a bare filename from the Content-Disposition
// header, falling back to the URL path's base
func suggestedFilename(disposition string, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := sanitizeFilename(params["filename"]); name != "" {
				return name
			}
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return sanitizeFilename(path.Base(parsed.Path))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
