package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDownloadName is used when neither the caller nor the server names
// the file.
const DefaultDownloadName = "download"

// Upload sends a multipart/form-data POST with the content of r under field
// and the extra string fields. The body is buffered so a replay or retry
// resends it in full.
func (c *Client) Upload(
	ctx context.Context,
	path, field, filename string,
	r io.Reader,
	fields map[string]string,
	out any,
	opts ...Option,
) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return fmt.Errorf("failed to write form field %q: %w", k, err)
		}
	}

	part, err := w.CreateFormFile(field, filepath.Base(filename))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}

	opts = append([]Option{WithHeader("Content-Type", w.FormDataContentType())}, opts...)
	return c.Do(ctx, http.MethodPost, path, buf.Bytes(), out, opts...)
}

// Download fetches path and saves it into the download directory. The name
// is filename when given, else the Content-Disposition filename, else the
// last URL path segment, else DefaultDownloadName. It returns the saved
// path. A failed download leaves no file behind.
func (c *Client) Download(ctx context.Context, urlPath, filename string, opts ...Option) (string, error) {
	rc, err := c.newRequest(http.MethodGet, urlPath, nil, opts)
	if err != nil {
		return "", err
	}
	rc.header.Set("Accept", "*/*")

	result, err := c.run(ctx, rc)
	if err != nil {
		return "", err
	}

	name := downloadName(filename, result.raw, rc.url)
	if err := os.MkdirAll(c.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	dest := filepath.Join(c.cfg.DownloadDir, name)
	if err := writeFileAtomic(dest, result.body); err != nil {
		return "", err
	}
	c.logf("[HTTP] saved %d bytes to %s", len(result.body), dest)
	return dest, nil
}

func downloadName(explicit string, resp *http.Response, rawURL string) string {
	candidates := []string{explicit}
	if resp != nil {
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			if _, params, err := mime.ParseMediaType(cd); err == nil {
				candidates = append(candidates, params["filename"])
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		candidates = append(candidates, path.Base(u.Path))
	}

	for _, c := range candidates {
		name := filepath.Base(strings.TrimSpace(c))
		if name == "" || name == "." || name == "/" || name == ".." {
			continue
		}
		return name
	}
	return DefaultDownloadName
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place. The temp file is removed on every failure path.
func writeFileAtomic(dest string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = errors.Join(err, rmErr)
			}
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close download: %w", err)
	}
	if err = os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}
	return nil
}
