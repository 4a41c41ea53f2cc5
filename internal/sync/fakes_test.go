package sync

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Drive reports MD5 checksums
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/tonimelisma/vaultsync/internal/gdrive"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

// --- in-memory remote ---

type remoteNode struct {
	file    gdrive.File
	content []byte
}

// memRemote is an in-memory Drive. The root folder has ID "root".
type memRemote struct {
	mu     gosync.Mutex
	nodes  map[string]*remoteNode
	nextID int
	clock  int64

	findCalls    map[string]int
	createCalls  int
	updateCalls  int
	downloads    int
	lastEncoding gdrive.Encoding

	listErr         error
	failFolder      map[string]error
	failUpload      map[string]error
	listBlock       chan struct{}
	listStarted     chan struct{}
	listStartedOnce gosync.Once
}

func newMemRemote() *memRemote {
	return &memRemote{
		nodes:      make(map[string]*remoteNode),
		findCalls:  make(map[string]int),
		failFolder: make(map[string]error),
		failUpload: make(map[string]error),
		clock:      1_000_000,
	}
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec // test checksum

	return hex.EncodeToString(sum[:])
}

func (m *memRemote) newID() string {
	m.nextID++

	return fmt.Sprintf("id-%d", m.nextID)
}

// put adds a file under the slash path rel, creating folders as needed.
func (m *memRemote) put(rel string, content []byte, mtime int64) *gdrive.File {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent := "root"
	segs := strings.Split(rel, "/")

	for _, seg := range segs[:len(segs)-1] {
		parent = m.ensureFolderLocked(seg, parent)
	}

	n := &remoteNode{
		file: gdrive.File{
			ID:           m.newID(),
			Name:         segs[len(segs)-1],
			MimeType:     MimeType(rel),
			ModifiedTime: time.UnixMilli(mtime).UTC(),
			Size:         int64(len(content)),
			MD5Checksum:  md5Hex(content),
			Version:      "1",
			Parents:      []string{parent},
		},
		content: content,
	}
	m.nodes[n.file.ID] = n

	return &n.file
}

func (m *memRemote) ensureFolderLocked(name, parent string) string {
	for id, n := range m.nodes {
		if n.file.IsFolder() && n.file.Name == name && n.file.Parents[0] == parent {
			return id
		}
	}

	id := m.newID()
	m.nodes[id] = &remoteNode{file: gdrive.File{
		ID: id, Name: name, MimeType: gdrive.FolderMimeType, Parents: []string{parent},
	}}

	return id
}

// lookup returns the node at slash path rel.
func (m *memRemote) lookup(rel string) *remoteNode {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent := "root"
	segs := strings.Split(rel, "/")

	for i, seg := range segs {
		var found *remoteNode

		for _, n := range m.nodes {
			if n.file.Name == seg && n.file.Parents[0] == parent {
				found = n
				break
			}
		}

		if found == nil {
			return nil
		}

		if i == len(segs)-1 {
			return found
		}

		parent = found.file.ID
	}

	return nil
}

func (m *memRemote) ListChildren(ctx context.Context, folderID string) ([]gdrive.File, error) {
	if m.listBlock != nil {
		m.listStartedOnce.Do(func() { close(m.listStarted) })

		select {
		case <-m.listBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []gdrive.File

	for _, n := range m.nodes {
		if len(n.file.Parents) > 0 && n.file.Parents[0] == folderID {
			out = append(out, n.file)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (m *memRemote) Download(_ context.Context, fileID string, w io.Writer) (int64, error) {
	m.mu.Lock()
	n, ok := m.nodes[fileID]
	m.downloads++
	m.mu.Unlock()

	if !ok {
		return 0, gdrive.ErrNotFound
	}

	written, err := w.Write(n.content)

	return int64(written), err
}

func readUploadContent(c gdrive.Content) ([]byte, error) {
	if c.Encoding == gdrive.EncodingMedia {
		if _, err := c.Stream.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		return io.ReadAll(c.Stream)
	}

	return c.Data, nil
}

func (m *memRemote) CreateFile(_ context.Context, meta gdrive.Metadata, c gdrive.Content) (*gdrive.File, error) {
	data, err := readUploadContent(c)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	m.lastEncoding = c.Encoding

	if err := m.failUpload[meta.Name]; err != nil {
		return nil, err
	}

	m.clock++

	mtime := time.UnixMilli(m.clock).UTC()
	if meta.ModifiedTime != nil {
		mtime = *meta.ModifiedTime
	}

	n := &remoteNode{
		file: gdrive.File{
			ID:           m.newID(),
			Name:         meta.Name,
			MimeType:     meta.MimeType,
			ModifiedTime: mtime,
			Size:         int64(len(data)),
			MD5Checksum:  md5Hex(data),
			Version:      "1",
			Parents:      meta.Parents,
		},
		content: data,
	}
	m.nodes[n.file.ID] = n
	f := n.file

	return &f, nil
}

func (m *memRemote) UpdateFile(_ context.Context, fileID string, meta gdrive.Metadata, c gdrive.Content) (*gdrive.File, error) {
	data, err := readUploadContent(c)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	m.lastEncoding = c.Encoding

	n, ok := m.nodes[fileID]
	if !ok {
		return nil, gdrive.ErrNotFound
	}

	if err := m.failUpload[n.file.Name]; err != nil {
		return nil, err
	}

	n.content = data
	n.file.Size = int64(len(data))
	n.file.MD5Checksum = md5Hex(data)
	v, _ := strconv.Atoi(n.file.Version)
	n.file.Version = strconv.Itoa(v + 1)

	if meta.ModifiedTime != nil {
		n.file.ModifiedTime = *meta.ModifiedTime
	}

	f := n.file

	return &f, nil
}

func (m *memRemote) CreateFolder(_ context.Context, name, parentID string) (*gdrive.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failFolder[name]; err != nil {
		return nil, err
	}

	id := m.newID()
	n := &remoteNode{file: gdrive.File{ID: id, Name: name, MimeType: gdrive.FolderMimeType, Parents: []string{parentID}}}
	m.nodes[id] = n
	f := n.file

	return &f, nil
}

func (m *memRemote) FindChild(_ context.Context, name, parentID string, folder bool) (*gdrive.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.findCalls[name]++

	for _, n := range m.nodes {
		if n.file.Name == name && n.file.Parents[0] == parentID && n.file.IsFolder() == folder {
			f := n.file
			return &f, nil
		}
	}

	return nil, nil
}

func (m *memRemote) DeleteFile(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, fileID)

	return nil
}

// --- in-memory local store ---

type localNode struct {
	data   []byte
	mtime  int64
	folder bool
}

// memLocal is an in-memory vault.
type memLocal struct {
	mu      gosync.Mutex
	nodes   map[string]*localNode
	clock   int64
	listErr error
	chtErr  error
}

func newMemLocal() *memLocal {
	return &memLocal{nodes: make(map[string]*localNode), clock: 5_000_000}
}

func (l *memLocal) put(path string, data []byte, mtime int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nodes[path] = &localNode{data: data, mtime: mtime}
}

func (l *memLocal) get(path string) *localNode {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.nodes[path]
}

func (l *memLocal) List(_ context.Context, base string) ([]LocalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listErr != nil {
		return nil, l.listErr
	}

	var out []LocalEntry

	for p, n := range l.nodes {
		if base != "" && !strings.HasPrefix(p, base+"/") {
			continue
		}

		kind := KindFile
		if n.folder {
			kind = KindFolder
		}

		out = append(out, LocalEntry{Kind: kind, Path: p, ModTime: n.mtime, Size: int64(len(n.data))})
	}

	return out, nil
}

func (l *memLocal) Stat(_ context.Context, path string) (*LocalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[path]
	if !ok {
		return nil, nil
	}

	kind := KindFile
	if n.folder {
		kind = KindFolder
	}

	return &LocalEntry{Kind: kind, Path: path, ModTime: n.mtime, Size: int64(len(n.data))}, nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

func (l *memLocal) Open(_ context.Context, path string) (io.ReadSeekCloser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[path]
	if !ok || n.folder {
		return nil, fmt.Errorf("open %s: not found", path)
	}

	return readSeekNopCloser{bytes.NewReader(n.data)}, nil
}

func (l *memLocal) Write(_ context.Context, path string, fill func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n, ok := l.nodes[path]; ok && n.folder {
		return fmt.Errorf("%w: %s is a folder", ErrLocalWrite, path)
	}

	l.clock++
	l.nodes[path] = &localNode{data: buf.Bytes(), mtime: l.clock}

	return nil
}

func (l *memLocal) CreateFolder(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	segs := strings.Split(path, "/")
	for i := range segs {
		prefix := strings.Join(segs[:i+1], "/")

		if n, ok := l.nodes[prefix]; ok {
			if !n.folder {
				return fmt.Errorf("%w: %s is a file", ErrLocalWrite, prefix)
			}

			continue
		}

		l.nodes[prefix] = &localNode{folder: true}
	}

	return nil
}

func (l *memLocal) SetModTime(_ context.Context, path string, mtime time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.chtErr != nil {
		return l.chtErr
	}

	n, ok := l.nodes[path]
	if !ok {
		return fmt.Errorf("chtimes %s: not found", path)
	}

	n.mtime = mtime.UnixMilli()

	return nil
}
