package gdrive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
)

// MultipartBoundary separates the metadata and content parts of a
// multipart/related upload.
const MultipartBoundary = "-------314159265358979323846"

const metadataContentType = "application/json; charset=UTF-8"

// CreateFile creates a new file from meta and content. Text and base64
// content go up in one multipart request; media content is a metadata-only
// create followed by a raw media upload and a modified-time patch.
func (c *Client) CreateFile(ctx context.Context, meta Metadata, content Content) (*File, error) {
	c.logger.Info("creating file",
		slog.String("name", meta.Name),
		slog.String("encoding", content.Encoding.String()),
	)

	if content.Encoding != EncodingMedia {
		f, err := c.uploadMultipart(ctx, http.MethodPost, c.uploadURL+"/files", meta, content)
		if err != nil {
			return nil, fmt.Errorf("gdrive: creating %q: %w", meta.Name, err)
		}

		return f, nil
	}

	// The shell is stamped with the local modified time; a leftover shell
	// must never look newer than the local file.
	created, err := c.writeMetadata(ctx, http.MethodPost, c.baseURL+"/files", meta)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating %q: %w", meta.Name, err)
	}

	if _, err := c.uploadMedia(ctx, created.ID, content); err != nil {
		err = fmt.Errorf("gdrive: uploading content of %q: %w", meta.Name, err)

		return nil, c.discardShell(ctx, created.ID, err)
	}

	f, err := c.UpdateMetadata(ctx, created.ID, Metadata{ModifiedTime: meta.ModifiedTime})
	if err != nil {
		return nil, c.discardShell(ctx, created.ID, err)
	}

	return f, nil
}

// discardShell deletes a file whose two-phase create did not finish and
// returns cause, joined with the delete error if cleanup failed too.
func (c *Client) discardShell(ctx context.Context, fileID string, cause error) error {
	c.logger.Warn("discarding incomplete upload",
		slog.String("id", fileID),
		slog.String("error", cause.Error()),
	)

	if err := c.DeleteFile(context.WithoutCancel(ctx), fileID); err != nil {
		return errors.Join(cause, err)
	}

	return cause
}

// UpdateFile replaces the content of fileID, then patches its metadata so
// the modified time reflects meta.ModifiedTime rather than the upload time.
// Parents cannot be changed through this call and are ignored.
func (c *Client) UpdateFile(ctx context.Context, fileID string, meta Metadata, content Content) (*File, error) {
	c.logger.Info("updating file",
		slog.String("id", fileID),
		slog.String("encoding", content.Encoding.String()),
	)

	var err error

	if content.Encoding == EncodingMedia {
		_, err = c.uploadMedia(ctx, fileID, content)
	} else {
		_, err = c.uploadMultipart(ctx, http.MethodPatch,
			c.uploadURL+"/files/"+url.PathEscape(fileID), Metadata{}, content)
	}

	if err != nil {
		return nil, fmt.Errorf("gdrive: updating content of %s: %w", fileID, err)
	}

	meta.Parents = nil

	return c.UpdateMetadata(ctx, fileID, meta)
}

// UpdateMetadata patches the metadata of fileID.
func (c *Client) UpdateMetadata(ctx context.Context, fileID string, meta Metadata) (*File, error) {
	f, err := c.writeMetadata(ctx, http.MethodPatch, c.baseURL+"/files/"+url.PathEscape(fileID), meta)
	if err != nil {
		return nil, fmt.Errorf("gdrive: updating metadata of %s: %w", fileID, err)
	}

	return f, nil
}

func (c *Client) uploadMultipart(
	ctx context.Context, method, endpoint string, meta Metadata, content Content,
) (*File, error) {
	body, err := buildMultipart(meta, content)
	if err != nil {
		return nil, err
	}

	params := url.Values{"uploadType": {"multipart"}, "fields": {fileFields}}

	resp, err := c.Do(ctx, method, endpoint+"?"+params.Encode(), bytes.NewReader(body),
		"multipart/related; boundary="+MultipartBoundary)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeFile(resp.Body)
}

func (c *Client) uploadMedia(ctx context.Context, fileID string, content Content) (*File, error) {
	if content.Stream == nil {
		return nil, fmt.Errorf("media upload of %s has no stream", fileID)
	}

	params := url.Values{"uploadType": {"media"}, "fields": {fileFields}}
	rawURL := c.uploadURL + "/files/" + url.PathEscape(fileID) + "?" + params.Encode()

	mimeType := content.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	resp, err := c.Do(ctx, http.MethodPatch, rawURL, content.Stream, mimeType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("media upload complete",
		slog.String("id", fileID),
		slog.Int64("size", content.Size),
	)

	return decodeFile(resp.Body)
}

// buildMultipart renders a multipart/related body: a JSON metadata part
// followed by the content part, base64-encoded for EncodingBase64.
func buildMultipart(meta Metadata, content Content) ([]byte, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(MultipartBoundary); err != nil {
		return nil, fmt.Errorf("setting boundary: %w", err)
	}

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {metadataContentType}})
	if err != nil {
		return nil, fmt.Errorf("creating metadata part: %w", err)
	}

	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	mimeType := content.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	hdr := textproto.MIMEHeader{"Content-Type": {mimeType}}
	if content.Encoding == EncodingBase64 {
		hdr.Set("Content-Transfer-Encoding", "base64")
	}

	dataPart, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("creating content part: %w", err)
	}

	if content.Encoding == EncodingBase64 {
		enc := base64.NewEncoder(base64.StdEncoding, dataPart)
		if _, err := enc.Write(content.Data); err != nil {
			return nil, fmt.Errorf("encoding content: %w", err)
		}

		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding content: %w", err)
		}
	} else if _, err := dataPart.Write(content.Data); err != nil {
		return nil, fmt.Errorf("writing content: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	return buf.Bytes(), nil
}

func decodeFile(r io.Reader) (*File, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &f, nil
}
