package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dav "github.com/emersion/go-webdav"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/pkg/logger"
)

// ErrNotFound marks a missing file or directory on the shared filesystem.
var ErrNotFound = errors.New("file not found")

// Config holds the shared filesystem connection configuration.
type Config struct {
	URL      string
	Username string
	Password string
	BasePath string        // every path the gateway touches is rooted here
	Timeout  time.Duration // defaults to 10s
}

// FileInfo describes one entry of a directory listing.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// Client is the gateway to the WebDAV shared filesystem holding server
// data directories and proxy configuration directories.
type Client struct {
	dav      *dav.Client
	basePath string
}

// NewClient connects a gateway to the shared filesystem.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webdav URL is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	var transport dav.HTTPClient = httpClient
	if config.Username != "" {
		transport = dav.HTTPClientWithBasicAuth(httpClient, config.Username, config.Password)
	}

	client, err := dav.NewClient(transport, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &Client{
		dav:      client,
		basePath: "/" + strings.Trim(config.BasePath, "/"),
	}, nil
}

// BasePath returns the configured root of the shared filesystem.
func (c *Client) BasePath() string {
	return c.basePath
}

// Join composes an absolute path under the base, collapsing duplicate
// slashes.
func (c *Client) Join(parts ...string) string {
	return JoinPath(append([]string{c.basePath}, parts...)...)
}

// JoinPath joins path segments into one absolute path without duplicate
// slashes.
func JoinPath(parts ...string) string {
	joined := "/" + strings.Join(parts, "/")
	for strings.Contains(joined, "//") {
		joined = strings.ReplaceAll(joined, "//", "/")
	}
	if joined != "/" {
		joined = strings.TrimRight(joined, "/")
	}
	return joined
}

// Exists reports whether a file or directory exists at the absolute path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.dav.Stat(ctx, path)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, externalErr(fmt.Sprintf("stat %s", path), err)
	}
	return true, nil
}

// Read returns the full content of a file.
func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	reader, err := c.dav.Open(ctx, path)
	if err != nil {
		return nil, classify(fmt.Sprintf("open %s", path), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, externalErr(fmt.Sprintf("read %s", path), err)
	}
	return data, nil
}

// Write replaces the content of a file. Uploads go to a temporary sibling
// first and move into place so readers never observe a torn file; a plain
// overwrite is the fallback when the server refuses the move.
func (c *Client) Write(ctx context.Context, path string, data []byte) error {
	tmp := path + ".tmp"

	if err := c.upload(ctx, tmp, data); err != nil {
		return err
	}
	if err := c.dav.Move(ctx, tmp, path, &dav.MoveOptions{}); err != nil {
		logger.Debug("Atomic move refused, overwriting in place", map[string]interface{}{
			"path": path, "reason": err.Error(),
		})
		if err := c.upload(ctx, path, data); err != nil {
			return err
		}
		if err := c.dav.RemoveAll(ctx, tmp); err != nil && !isNotFound(err) {
			logger.Warn("Leaving temporary upload behind", map[string]interface{}{
				"path": tmp, "reason": err.Error(),
			})
		}
	}
	return nil
}

func (c *Client) upload(ctx context.Context, path string, data []byte) error {
	writer, err := c.dav.Create(ctx, path)
	if err != nil {
		return classify(fmt.Sprintf("create %s", path), err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return externalErr(fmt.Sprintf("write %s", path), err)
	}
	if err := writer.Close(); err != nil {
		return externalErr(fmt.Sprintf("finish write %s", path), err)
	}
	return nil
}

// Move renames src to dst, replacing dst when it exists.
func (c *Client) Move(ctx context.Context, src, dst string) error {
	if err := c.dav.Move(ctx, src, dst, &dav.MoveOptions{}); err != nil {
		return classify(fmt.Sprintf("move %s to %s", src, dst), err)
	}
	return nil
}

// Delete removes a file or a directory tree. Deleting a missing path is
// not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.dav.RemoveAll(ctx, path); err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(fmt.Sprintf("delete %s", path), err)
	}
	return nil
}

// Mkdir creates one directory. An already existing directory is fine.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	if err := c.dav.Mkdir(ctx, path); err != nil {
		if exists, statErr := c.Exists(ctx, path); statErr == nil && exists {
			return nil
		}
		return classify(fmt.Sprintf("mkdir %s", path), err)
	}
	return nil
}

// MkdirAll creates a directory and every missing parent, one level at a
// time the way the protocol requires.
func (c *Client) MkdirAll(ctx context.Context, path string) error {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	current := ""
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		current += "/" + seg
		if err := c.Mkdir(ctx, current); err != nil {
			return err
		}
	}
	return nil
}

// List returns the direct children of a directory.
func (c *Client) List(ctx context.Context, path string) ([]FileInfo, error) {
	entries, err := c.dav.ReadDir(ctx, path, false)
	if err != nil {
		return nil, classify(fmt.Sprintf("list %s", path), err)
	}

	var out []FileInfo
	for _, e := range entries {
		entryPath := strings.TrimRight(e.Path, "/")
		if entryPath == strings.TrimRight(path, "/") {
			continue // the collection itself
		}
		name := entryPath
		if i := strings.LastIndex(entryPath, "/"); i >= 0 {
			name = entryPath[i+1:]
		}
		out = append(out, FileInfo{
			Name:    name,
			Path:    entryPath,
			Size:    e.Size,
			IsDir:   e.IsDir,
			ModTime: e.ModTime,
		})
	}
	return out, nil
}

// isNotFound sniffs a 404 out of the webdav client's error chain.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "404")
}

// classify maps a protocol failure onto the error taxonomy: missing
// targets stay visible as not-found, everything else is the shared
// filesystem being unavailable.
func classify(operation string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}
	return externalErr(operation, err)
}

// externalErr wraps a shared filesystem failure and feeds the failure
// counter.
func externalErr(operation string, err error) error {
	monitoring.RecordExternalFailure("webdav")
	return models.NewExternalError(operation, err)
}
