package gdrive

import (
	"io"
	"net/url"
	"time"
)

// FolderMimeType marks a Drive file as a folder.
const FolderMimeType = "application/vnd.google-apps.folder"

// fileFields is the partial response selector used for every file descriptor.
const fileFields = "id,name,mimeType,modifiedTime,size,md5Checksum,version,parents"

// File is a Drive file or folder descriptor.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size,string,omitempty"`
	MD5Checksum  string    `json:"md5Checksum,omitempty"`
	Version      string    `json:"version,omitempty"`
	Parents      []string  `json:"parents,omitempty"`
}

// IsFolder reports whether f is a folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// ModTimeMillis returns the remote modified time in Unix milliseconds.
func (f *File) ModTimeMillis() int64 {
	if f.ModifiedTime.IsZero() {
		return 0
	}

	return f.ModifiedTime.UnixMilli()
}

// Metadata is the writable subset of a file descriptor.
type Metadata struct {
	Name         string     `json:"name,omitempty"`
	MimeType     string     `json:"mimeType,omitempty"`
	Parents      []string   `json:"parents,omitempty"`
	ModifiedTime *time.Time `json:"modifiedTime,omitempty"`
}

// Encoding selects how content travels in an upload.
type Encoding int

const (
	// EncodingText sends the content as a UTF-8 part of a multipart request.
	EncodingText Encoding = iota
	// EncodingBase64 sends the content base64-encoded in a multipart request.
	EncodingBase64
	// EncodingMedia streams raw bytes in a separate media request after the
	// metadata has been written.
	EncodingMedia
)

func (e Encoding) String() string {
	switch e {
	case EncodingText:
		return "text"
	case EncodingBase64:
		return "base64"
	case EncodingMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Content is the body of an upload.
type Content struct {
	Encoding Encoding
	MimeType string
	// Data holds the bytes for EncodingText and EncodingBase64.
	Data []byte
	// Stream and Size are used for EncodingMedia. Stream must be seekable so
	// a retried request can rewind it.
	Stream io.ReadSeeker
	Size   int64
}

type listResponse struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// redactQuery drops the query string so search terms and tokens stay out of
// logs.
func redactQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "(unparseable url)"
	}

	u.RawQuery = ""

	return u.String()
}
