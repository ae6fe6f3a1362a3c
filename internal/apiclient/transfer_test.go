package apiclient

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/lease-cli/internal/apierr"
)

func TestUpload_SendsMultipartAndResendsOnReplay(t *testing.T) {
	type received struct {
		file, filename, kind string
	}
	var mu sync.Mutex
	var got []received

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token": "access-2"})
	})
	mux.HandleFunc("/api/lease-accounts/5/documents", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("form_pic")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		mu.Lock()
		got = append(got, received{string(data), hdr.Filename, r.FormValue("kind")})
		mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": "docs/5/form.png"})
	})
	h := newHarness(t, mux)
	h.login(t, "access-1", "refresh-1")

	var out struct{ Path string }
	err := h.client.Upload(context.Background(), "/lease-accounts/5/documents", "form_pic",
		"/tmp/scans/form.png", strings.NewReader("PNGDATA"),
		map[string]string{"kind": "form_pic"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "docs/5/form.png", out.Path)
	require.Len(t, got, 2)
	for _, g := range got {
		assert.Equal(t, received{"PNGDATA", "form.png", "form_pic"}, g)
	}
}

func TestDownload_NameResolution(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("named") == "1" {
			w.Header().Set("Content-Disposition", `attachment; filename="statement-5.pdf"`)
		}
		_, _ = w.Write([]byte("%PDF-" + r.URL.Path))
	}))
	ctx := context.Background()

	p, err := h.client.Download(ctx, "/reports/statement?named=1", "")
	require.NoError(t, err)
	assert.Equal(t, "statement-5.pdf", filepath.Base(p))

	p, err = h.client.Download(ctx, "/reports/statement?named=1", "mine.pdf")
	require.NoError(t, err)
	assert.Equal(t, "mine.pdf", filepath.Base(p))

	p, err = h.client.Download(ctx, "/reports/ledger.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "ledger.csv", filepath.Base(p))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-/api/reports/ledger.csv", string(data))
}

func TestDownload_FailureLeavesNoFile(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := h.client.Download(context.Background(), "/reports/missing.pdf", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())

	entries, err := os.ReadDir(h.client.cfg.DownloadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadName(t *testing.T) {
	withCD := &http.Response{Header: http.Header{"Content-Disposition": {`attachment; filename="../../etc/passwd"`}}}
	assert.Equal(t, "passwd", downloadName("", withCD, "http://x/api/file"))
	assert.Equal(t, "file", downloadName("", &http.Response{Header: http.Header{}}, "http://x/api/file"))
	assert.Equal(t, DefaultDownloadName, downloadName("", nil, "http://x/"))
	assert.Equal(t, "a.txt", downloadName("dir/a.txt", nil, "http://x/"))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	require.NoError(t, writeFileAtomic(dest, []byte("one")))
	require.NoError(t, writeFileAtomic(dest, []byte("two")))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	err = writeFileAtomic(filepath.Join(dir, "missing", "x"), []byte("x"))
	assert.Error(t, err)
}
