// Package metadata uploads a launch's image and descriptive fields to the
// content store and returns the resulting metadata URI.
package metadata

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
)

// DefaultMaxImageBytes bounds fetched and inlined images
const DefaultMaxImageBytes = 5 << 20

// Publisher turns a validated request into a metadata URI
type Publisher interface {
	Publish(ctx context.Context, req launch.Request) (string, error)
}

// Image is a normalized image payload
type Image struct {
	Data        []byte
	ContentType string
}

// HTTPPublisher uploads multipart forms to the content store
type HTTPPublisher struct {
	uploadURL string
	pool      *httpclient.ClientPool
	maxBytes  int64
}

// NewHTTPPublisher creates a publisher. The pool is used for the image fetch
// and the upload and should allow retries; both calls are idempotent.
func NewHTTPPublisher(uploadURL string, pool *httpclient.ClientPool, maxImageBytes int64) *HTTPPublisher {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &HTTPPublisher{uploadURL: uploadURL, pool: pool, maxBytes: maxImageBytes}
}

type uploadResponse struct {
	MetadataURI string `json:"metadataUri"`
}

func (p *HTTPPublisher) Publish(ctx context.Context, req launch.Request) (string, error) {
	img, err := p.LoadImage(ctx, req.ImageRef)
	if err != nil {
		return "", launch.Wrap(launch.KindUpload, err, "image unavailable")
	}

	body, contentType, err := buildForm(req, img)
	if err != nil {
		return "", launch.Wrap(launch.KindUpload, err, "build upload form")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", launch.Wrap(launch.KindUpload, err, "build upload request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.pool.Do(ctx, httpReq)
	if err != nil {
		return "", launch.Wrap(launch.KindUpload, err, "upload failed")
	}

	var out uploadResponse
	if err := p.pool.Decode(resp, &out); err != nil {
		return "", launch.Wrap(launch.KindUpload, err, "upload rejected")
	}
	if !validURI(out.MetadataURI) {
		return "", launch.Errorf(launch.KindUpload, "content store returned invalid metadata uri %q", out.MetadataURI)
	}

	log.Debug().
		Str("symbol", req.Symbol).
		Int("image_bytes", len(img.Data)).
		Str("metadata_uri", out.MetadataURI).
		Msg("Metadata published")
	return out.MetadataURI, nil
}

// LoadImage resolves an http(s) URL or a base64 data URI to image bytes
func (p *HTTPPublisher) LoadImage(ctx context.Context, ref string) (Image, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref, p.maxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Image{}, fmt.Errorf("invalid image url: %w", err)
	}
	resp, err := p.pool.Do(ctx, req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Image{}, fmt.Errorf("image fetch returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return Image{}, fmt.Errorf("image exceeds %d bytes", p.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "image/") {
		contentType = mt
	} else {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return Image{}, fmt.Errorf("image url served %s", contentType)
	}
	return Image{Data: data, ContentType: contentType}, nil
}

func decodeDataURI(ref string, maxBytes int64) (Image, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return Image{}, fmt.Errorf("malformed data uri")
	}
	params := strings.Split(header, ";")
	contentType := params[0]
	if !strings.HasPrefix(contentType, "image/") {
		return Image{}, fmt.Errorf("data uri is %q, not an image", contentType)
	}
	if params[len(params)-1] != "base64" {
		return Image{}, fmt.Errorf("data uri must be base64 encoded")
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return Image{}, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data uri: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("data uri is empty")
	}
	return Image{Data: data, ContentType: contentType}, nil
}

func buildForm(req launch.Request, img Image) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName(req.Symbol, img.ContentType)))
	h.Set("Content-Type", img.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"name", req.Name},
		{"symbol", req.Symbol},
		{"description", req.Description},
		{"website", req.Website},
		{"twitter", req.Twitter},
		{"telegram", req.Telegram},
		{"showName", "true"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func fileName(symbol, contentType string) string {
	ext := ".img"
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		ext = exts[0]
	}
	var b strings.Builder
	for _, r := range symbol {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		b.WriteString("image")
	}
	return strings.ToLower(b.String()) + ext
}

func validURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "ipfs", "ar":
		return u.Host != "" || u.Opaque != "" || u.Path != ""
	}
	return false
}
