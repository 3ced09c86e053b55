package core

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/filestore"
	"github.com/kilupskalvis/wikimirror/internal/metrics"
	"github.com/kilupskalvis/wikimirror/internal/remote"
)

// CacheBustParam is the query parameter added on retries to get past edge
// caches serving stale bytes.
const CacheBustParam = "mirrorcb"

// OriginRule asks an origin for untranscoded originals. Hosts matching
// HostSuffix get Param=Value in the query string and, if Header is set,
// Header: Value, unless the file extension is listed in SuppressExt.
type OriginRule struct {
	HostSuffix  string   `toml:"host_suffix" mapstructure:"host_suffix" validate:"required"`
	Param       string   `toml:"param,omitempty" mapstructure:"param"`
	Header      string   `toml:"header,omitempty" mapstructure:"header"`
	Value       string   `toml:"value" mapstructure:"value"`
	SuppressExt []string `toml:"suppress_ext,omitempty" mapstructure:"suppress_ext"`
}

// DefaultOriginRules returns the built-in origin rules. The CDN behind
// nocookie.net transcodes unless format=original is given, but serves the
// wrong container for WebP when it is.
func DefaultOriginRules() []OriginRule {
	return []OriginRule{{
		HostSuffix:  "nocookie.net",
		Param:       "format",
		Value:       "original",
		SuppressExt: []string{".webp"},
	}}
}

func (r OriginRule) matches(host string) bool {
	host = strings.ToLower(host)
	suffix := strings.ToLower(strings.TrimPrefix(r.HostSuffix, "."))
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

func (r OriginRule) suppressed(ext string) bool {
	return slices.ContainsFunc(r.SuppressExt, func(s string) bool {
		return strings.EqualFold(s, ext)
	})
}

// TransferOptions configures a FileTransfer.
type TransferOptions struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Rules       []OriginRule
	Logger      *slog.Logger
	// Sleep waits between attempts. Defaults to remote.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultTransferOptions returns three attempts, a two second base delay and
// the built-in origin rules.
func DefaultTransferOptions() TransferOptions {
	return TransferOptions{
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
		Rules:       DefaultOriginRules(),
	}
}

// FileTransfer downloads file versions with checksum verification. Bytes go
// to a temp file next to the destination and are renamed into place only
// once the checksum matches.
type FileTransfer struct {
	dl        Downloader
	opts      TransferOptions
	logger    *slog.Logger
	downloads int
	bytes     int64
}

// NewFileTransfer creates a file transfer manager.
func NewFileTransfer(dl Downloader, opts TransferOptions) *FileTransfer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Sleep == nil {
		opts.Sleep = remote.Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTransfer{dl: dl, opts: opts, logger: logger}
}

// Downloads returns the number of download attempts made.
func (ft *FileTransfer) Downloads() int { return ft.downloads }

// Bytes returns the number of bytes written by successful downloads.
func (ft *FileTransfer) Bytes() int64 { return ft.bytes }

// Fetch makes destPath hold the file at sourceURL with SHA-1 expectedSHA1.
// An existing matching file is kept without any network call. After
// MaxAttempts failed checksums it returns *CorruptTransferError and
// destPath is left untouched. Authorization rejections are fatal.
func (ft *FileTransfer) Fetch(ctx context.Context, name, sourceURL, expectedSHA1, destPath string) error {
	if expectedSHA1 != "" {
		got, err := filestore.HashFile(destPath)
		if err == nil && strings.EqualFold(got, expectedSHA1) {
			return nil
		}
		if err != nil && !errors.Is(err, filestore.ErrFileNotFound) {
			return fmt.Errorf("hash existing %s: %w", destPath, err)
		}
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}

	base, header, err := ft.prepare(name, sourceURL)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", name, err)
	}

	var lastGot string
	var lastErr error
	for attempt := 1; attempt <= ft.opts.MaxAttempts; attempt++ {
		u := *base
		if attempt > 1 {
			if err := ft.opts.Sleep(ctx, ft.opts.RetryDelay*time.Duration(attempt-1)); err != nil {
				return err
			}
			q := u.Query()
			q.Set(CacheBustParam, strconv.FormatInt(time.Now().UnixNano(), 36)+"-"+strconv.Itoa(attempt))
			u.RawQuery = q.Encode()
		}

		tmp, got, n, err := ft.attempt(ctx, u.String(), header, dir)
		if err != nil {
			if IsFatal(err) {
				return Fatal("download "+name, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.TransferAttempts.WithLabelValues("error").Inc()
			ft.logger.Warn("download attempt failed", "file", name, "attempt", attempt, "error", err)
			lastErr, lastGot = err, ""
			continue
		}

		if expectedSHA1 == "" || strings.EqualFold(got, expectedSHA1) {
			if err := os.Rename(tmp, destPath); err != nil {
				os.Remove(tmp)
				return fmt.Errorf("move %s into place: %w", name, err)
			}
			ft.bytes += n
			metrics.TransferAttempts.WithLabelValues("ok").Inc()
			metrics.TransferBytes.Add(float64(n))
			return nil
		}

		os.Remove(tmp)
		metrics.TransferAttempts.WithLabelValues("checksum").Inc()
		ft.logger.Warn("checksum mismatch",
			"file", name, "attempt", attempt, "got", got, "want", expectedSHA1)
		lastErr, lastGot = nil, got
	}

	return &CorruptTransferError{
		Name:     name,
		URL:      sourceURL,
		Attempts: ft.opts.MaxAttempts,
		Got:      lastGot,
		Want:     expectedSHA1,
		Err:      lastErr,
	}
}

// prepare applies origin rules to the source URL.
func (ft *FileTransfer) prepare(name, sourceURL string) (*url.URL, http.Header, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return nil, nil, err
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		ext = strings.ToLower(path.Ext(u.Path))
	}

	header := http.Header{}
	for _, rule := range ft.opts.Rules {
		if !rule.matches(u.Hostname()) || rule.suppressed(ext) {
			continue
		}
		if rule.Param != "" {
			q := u.Query()
			q.Set(rule.Param, rule.Value)
			u.RawQuery = q.Encode()
		}
		if rule.Header != "" {
			header.Set(rule.Header, rule.Value)
		}
	}
	return u, header, nil
}

// attempt downloads once into a temp file in dir, hashing while writing.
func (ft *FileTransfer) attempt(ctx context.Context, rawURL string, header http.Header, dir string) (tmpPath, sum string, n int64, err error) {
	ft.downloads++
	start := time.Now()
	defer func() { metrics.TransferDuration.Observe(time.Since(start).Seconds()) }()

	body, err := ft.dl.Download(ctx, rawURL, header)
	if err != nil {
		return "", "", 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, ".wikimirror-*.part")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp file: %w", err)
	}
	h := sha1.New()
	n, err = io.Copy(io.MultiWriter(tmp, h), body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), n, nil
}
