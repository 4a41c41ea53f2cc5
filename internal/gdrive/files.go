package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// listPageSize is the pageSize for list requests; 1000 is the Drive maximum.
const listPageSize = 1000

// ListChildren returns the direct, non-trashed children of folderID,
// following nextPageToken until the listing is exhausted.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))

	var (
		out       []File
		pageToken string
		pages     int
	)

	for {
		params := url.Values{
			"q":        {q},
			"fields":   {"nextPageToken,files(" + fileFields + ")"},
			"pageSize": {fmt.Sprint(listPageSize)},
			"spaces":   {"drive"},
		}

		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page listResponse
		if err := c.getJSON(ctx, c.baseURL+"/files?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("gdrive: listing children of %s: %w", folderID, err)
		}

		out = append(out, page.Files...)
		pages++

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	c.logger.Debug("listed children",
		slog.String("folder_id", folderID),
		slog.Int("count", len(out)),
		slog.Int("pages", pages),
	)

	return out, nil
}

// GetFile fetches the descriptor of a single file.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File

	rawURL := c.baseURL + "/files/" + url.PathEscape(fileID) + "?fields=" + url.QueryEscape(fileFields)
	if err := c.getJSON(ctx, rawURL, &f); err != nil {
		return nil, fmt.Errorf("gdrive: getting file %s: %w", fileID, err)
	}

	return &f, nil
}

// FindChild looks up a non-trashed child of parentID by exact name. folder
// restricts the match to folders (true) or non-folders (false). Returns
// (nil, nil) when nothing matches; the first match wins when names repeat.
func (c *Client) FindChild(ctx context.Context, name, parentID string, folder bool) (*File, error) {
	op := "!="
	if folder {
		op = "="
	}

	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType %s '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), op, FolderMimeType)

	params := url.Values{
		"q":        {q},
		"fields":   {"files(" + fileFields + ")"},
		"pageSize": {"10"},
		"spaces":   {"drive"},
	}

	var page listResponse
	if err := c.getJSON(ctx, c.baseURL+"/files?"+params.Encode(), &page); err != nil {
		return nil, fmt.Errorf("gdrive: finding %q in %s: %w", name, parentID, err)
	}

	if len(page.Files) == 0 {
		return nil, nil //nolint:nilnil // absent child is not an error
	}

	if len(page.Files) > 1 {
		c.logger.Warn("duplicate names in folder, using first match",
			slog.String("name", name),
			slog.String("parent_id", parentID),
			slog.Int("matches", len(page.Files)),
		)
	}

	return &page.Files[0], nil
}

// CreateFolder creates a folder named name under parentID.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*File, error) {
	meta := Metadata{Name: name, MimeType: FolderMimeType, Parents: []string{parentID}}

	f, err := c.writeMetadata(ctx, http.MethodPost, c.baseURL+"/files", meta)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating folder %q in %s: %w", name, parentID, err)
	}

	c.logger.Info("created folder",
		slog.String("name", name),
		slog.String("parent_id", parentID),
		slog.String("id", f.ID),
	)

	return f, nil
}

// DeleteFile permanently deletes fileID.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	resp, err := c.Do(ctx, http.MethodDelete, c.baseURL+"/files/"+url.PathEscape(fileID), nil, "")
	if err != nil {
		return fmt.Errorf("gdrive: deleting %s: %w", fileID, err)
	}

	resp.Body.Close()

	c.logger.Info("deleted file", slog.String("id", fileID))

	return nil
}

// Download streams the content of fileID into w and returns the number of
// bytes written. Only the request is retried; a failure while streaming is
// returned to the caller.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	rawURL := c.baseURL + "/files/" + url.PathEscape(fileID) + "?alt=media"

	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return 0, fmt.Errorf("gdrive: downloading %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		c.logger.Error("streaming download content failed",
			slog.String("id", fileID),
			slog.String("error", err.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("gdrive: streaming download content: %w", err)
	}

	c.logger.Debug("download complete",
		slog.String("id", fileID),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// writeMetadata sends meta as a JSON body and decodes the returned file.
func (c *Client) writeMetadata(ctx context.Context, method, endpoint string, meta Metadata) (*File, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	rawURL := endpoint + "?fields=" + url.QueryEscape(fileFields)

	resp, err := c.Do(ctx, method, rawURL, bytes.NewReader(body), "application/json; charset=UTF-8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeFile(resp.Body)
}

// escapeQuery escapes a literal for a Drive search query, where backslash
// and single quote are special.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return strings.ReplaceAll(s, `'`, `\'`)
}
