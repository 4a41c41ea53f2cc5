package gdrive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPart struct {
	header http.Header
	body   []byte
}

// readMultipart parses a multipart/related request into its parts.
func readMultipart(t *testing.T, r *http.Request) []recordedPart {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", mediaType)
	assert.Equal(t, MultipartBoundary, params["boundary"])

	mr := multipart.NewReader(r.Body, params["boundary"])

	var parts []recordedPart

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)

		b, err := io.ReadAll(p)
		require.NoError(t, err)

		parts = append(parts, recordedPart{header: http.Header(p.Header), body: b})
	}

	return parts
}

func TestCreateFile_TextIsSingleMultipartRequest(t *testing.T) {
	mtime := time.UnixMilli(1_700_000_000_000).UTC()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload/files", r.URL.Path)
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		parts := readMultipart(t, r)
		require.Len(t, parts, 2)

		var meta Metadata
		require.NoError(t, json.Unmarshal(parts[0].body, &meta))
		assert.Equal(t, "a.md", meta.Name)
		assert.Equal(t, []string{"parent"}, meta.Parents)
		require.NotNil(t, meta.ModifiedTime)
		assert.True(t, mtime.Equal(*meta.ModifiedTime))

		assert.Equal(t, "text/markdown", parts[1].header.Get("Content-Type"))
		assert.Empty(t, parts[1].header.Get("Content-Transfer-Encoding"))
		assert.Equal(t, "# héllo", string(parts[1].body))

		fmt.Fprint(w, `{"id":"new","name":"a.md","md5Checksum":"h","version":"1","modifiedTime":"2023-11-14T22:13:20Z"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	f, err := client.CreateFile(context.Background(),
		Metadata{Name: "a.md", Parents: []string{"parent"}, ModifiedTime: &mtime},
		Content{Encoding: EncodingText, MimeType: "text/markdown", Data: []byte("# héllo")})
	require.NoError(t, err)
	assert.Equal(t, "new", f.ID)
	assert.Equal(t, "h", f.MD5Checksum)
}

func TestCreateFile_SmallBinaryIsBase64Part(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := readMultipart(t, r)
		require.Len(t, parts, 2)

		assert.Equal(t, "base64", parts[1].header.Get("Content-Transfer-Encoding"))

		decoded, err := base64.StdEncoding.DecodeString(string(parts[1].body))
		require.NoError(t, err)
		assert.Equal(t, data, decoded)

		fmt.Fprint(w, `{"id":"img"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	f, err := client.CreateFile(context.Background(),
		Metadata{Name: "p.png", Parents: []string{"parent"}},
		Content{Encoding: EncodingBase64, MimeType: "image/png", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "img", f.ID)
}

func TestCreateFile_LargeBinaryIsTwoPhase(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	mtime := time.UnixMilli(1_700_000_000_000).UTC()

	var (
		mu    sync.Mutex
		steps []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		steps = append(steps, r.Method+" "+r.URL.Path)
		mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			var meta Metadata
			require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
			assert.Equal(t, "big.pdf", meta.Name)
			require.NotNil(t, meta.ModifiedTime)
			assert.True(t, mtime.Equal(*meta.ModifiedTime))
			fmt.Fprint(w, `{"id":"big"}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/upload/files/big":
			assert.Equal(t, "media", r.URL.Query().Get("uploadType"))
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, body)
			fmt.Fprint(w, `{"id":"big"}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/files/big":
			var meta Metadata
			require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
			require.NotNil(t, meta.ModifiedTime)
			assert.True(t, mtime.Equal(*meta.ModifiedTime))
			fmt.Fprint(w, `{"id":"big","md5Checksum":"m","version":"2"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	f, err := client.CreateFile(context.Background(),
		Metadata{Name: "big.pdf", Parents: []string{"parent"}, ModifiedTime: &mtime},
		Content{
			Encoding: EncodingMedia,
			MimeType: "application/pdf",
			Stream:   bytes.NewReader(payload),
			Size:     int64(len(payload)),
		})
	require.NoError(t, err)
	assert.Equal(t, "m", f.MD5Checksum)
	assert.Equal(t, []string{"POST /files", "PATCH /upload/files/big", "PATCH /files/big"}, steps)
}

func TestCreateFile_MediaFailureDeletesShell(t *testing.T) {
	tests := []struct {
		name      string
		failPath  string
		wantSteps []string
	}{
		{
			name:     "content upload rejected",
			failPath: "/upload/files/big",
			wantSteps: []string{
				"POST /files", "PATCH /upload/files/big", "DELETE /files/big",
			},
		},
		{
			name:     "modified time patch rejected",
			failPath: "/files/big",
			wantSteps: []string{
				"POST /files", "PATCH /upload/files/big", "PATCH /files/big", "DELETE /files/big",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mtime := time.UnixMilli(1_000).UTC()

			var (
				mu    sync.Mutex
				steps []string
			)

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				steps = append(steps, r.Method+" "+r.URL.Path)
				mu.Unlock()

				switch {
				case r.Method == http.MethodDelete:
					w.WriteHeader(http.StatusNoContent)
				case r.Method == http.MethodPatch && r.URL.Path == tt.failPath:
					w.WriteHeader(http.StatusBadRequest)
					fmt.Fprint(w, driveError(http.StatusBadRequest, "badContent", "rejected"))
				default:
					fmt.Fprint(w, `{"id":"big"}`)
				}
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			_, err := client.CreateFile(context.Background(),
				Metadata{Name: "big.pdf", Parents: []string{"parent"}, ModifiedTime: &mtime},
				Content{
					Encoding: EncodingMedia,
					MimeType: "application/pdf",
					Stream:   bytes.NewReader([]byte("payload")),
					Size:     7,
				})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadRequest)
			assert.Equal(t, tt.wantSteps, steps)
		})
	}
}

func TestCreateFile_FailedCleanupReportsBothErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			fmt.Fprint(w, `{"id":"big"}`)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, driveError(http.StatusForbidden, "insufficientFilePermissions", "no"))
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, driveError(http.StatusBadRequest, "badContent", "rejected"))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.CreateFile(context.Background(),
		Metadata{Name: "big.pdf"},
		Content{Encoding: EncodingMedia, Stream: bytes.NewReader([]byte("x")), Size: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "deleting big")
}

func TestUpdateFile_ContentThenMetadata(t *testing.T) {
	mtime := time.UnixMilli(1_700_000_000_000).UTC()

	var (
		mu    sync.Mutex
		steps []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		steps = append(steps, r.Method+" "+r.URL.Path)
		mu.Unlock()

		switch r.URL.Path {
		case "/upload/files/abc":
			parts := readMultipart(t, r)
			require.Len(t, parts, 2)
			assert.Equal(t, "new text", string(parts[1].body))
			fmt.Fprint(w, `{"id":"abc"}`)
		case "/files/abc":
			var meta Metadata
			require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
			assert.Nil(t, meta.Parents)
			require.NotNil(t, meta.ModifiedTime)
			fmt.Fprint(w, `{"id":"abc","version":"9"}`)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	f, err := client.UpdateFile(context.Background(), "abc",
		Metadata{ModifiedTime: &mtime, Parents: []string{"ignored"}},
		Content{Encoding: EncodingText, MimeType: "text/plain", Data: []byte("new text")})
	require.NoError(t, err)
	assert.Equal(t, "9", f.Version)
	assert.Equal(t, []string{"PATCH /upload/files/abc", "PATCH /files/abc"}, steps)
}

func TestUpdateFile_MetadataFailureAfterContentIsReported(t *testing.T) {
	mtime := time.UnixMilli(1_000).UTC()

	var (
		mu    sync.Mutex
		steps []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		steps = append(steps, r.Method+" "+r.URL.Path)
		mu.Unlock()

		if r.URL.Path == "/files/abc" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, driveError(http.StatusBadRequest, "invalid", "bad time"))

			return
		}

		fmt.Fprint(w, `{"id":"abc"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	f, err := client.UpdateFile(context.Background(), "abc",
		Metadata{ModifiedTime: &mtime},
		Content{Encoding: EncodingMedia, Stream: bytes.NewReader([]byte("data")), Size: 4})
	require.Error(t, err)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "updating metadata of abc")
	assert.Equal(t, []string{"PATCH /upload/files/abc", "PATCH /files/abc"}, steps,
		"an existing file is never deleted")
}

func TestUpdateFile_QuotaExceededNotRetried(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, driveError(http.StatusForbidden, "storageQuotaExceeded", "full"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.UpdateFile(context.Background(), "abc", Metadata{},
		Content{Encoding: EncodingText, Data: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, calls)
}
