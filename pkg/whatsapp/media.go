package whatsapp

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const maxMediaBytes = 64 << 20

// MediaFetcher downloads remote files that are sent as attachments.
type MediaFetcher struct {
	http *resty.Client
}

func NewMediaFetcher(timeout time.Duration) *MediaFetcher {
	return &MediaFetcher{
		http: resty.New().
			SetTimeout(timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)),
	}
}

func (f *MediaFetcher) Fetch(ctx context.Context, rawURL string, opts MediaOptions) (*Media, error) {
	resp, err := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch media %s: status %d", rawURL, resp.StatusCode())
	}

	data, err := readLimited(body, maxMediaBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read media %s: %w", rawURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("media %s is empty", rawURL)
	}

	return &Media{
		MimeType: resolveMimeType(opts, resp.Header().Get("Content-Type"), data),
		Filename: filenameFromURL(rawURL),
		Data:     data,
	}, nil
}

func resolveMimeType(opts MediaOptions, header string, data []byte) string {
	if opts.MimeType != "" {
		return opts.MimeType
	}
	declared, _, err := mime.ParseMediaType(header)
	if err != nil {
		declared = ""
	}
	if declared != "" && !(opts.Unsafe && isGenericMimeType(declared)) {
		return declared
	}
	return strings.SplitN(http.DetectContentType(data), ";", 2)[0]
}

func isGenericMimeType(t string) bool {
	return t == "application/octet-stream" || t == "binary/octet-stream" || t == "text/plain"
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "file"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("media exceeds %d bytes", limit)
	}
	return data, nil
}
