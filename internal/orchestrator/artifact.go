package orchestrator

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kalambet/fluxmcp/internal/bfl"
)

const defaultMIMEType = "image/jpeg"

// DownloadResult describes a file written by Download.
type DownloadResult struct {
	Path        string
	Bytes       int64
	ContentType string
}

// Artifact is a generated image held in memory.
type Artifact struct {
	ID       string
	Data     []byte
	MIMEType string
}

// Download fetches the current status of id and, if the image is ready,
// writes it to dest. A dest that names an existing directory, or ends in a
// path separator, receives "<id>.<ext>". Relative paths resolve against the
// configured download directory. The file appears only once fully written.
func (o *Orchestrator) Download(ctx context.Context, id, dest string) (DownloadResult, error) {
	art, err := o.openReady(ctx, id)
	if err != nil {
		return DownloadResult{}, err
	}
	defer art.Body.Close()

	if art.Size > o.maxBytes {
		return DownloadResult{}, &TransferError{URL: art.url, Err: ErrArtifactTooLarge}
	}

	target, err := o.resolveDest(id, dest, extension(art.ContentType, art.url))
	if err != nil {
		return DownloadResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return DownloadResult{}, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".fluxmcp-*.part")
	if err != nil {
		return DownloadResult{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(art.Body, o.maxBytes+1))
	if err != nil {
		return DownloadResult{}, &TransferError{URL: art.url, Err: err}
	}
	if n > o.maxBytes {
		return DownloadResult{}, &TransferError{URL: art.url, Err: ErrArtifactTooLarge}
	}
	if err := tmp.Close(); err != nil {
		return DownloadResult{}, &TransferError{URL: art.url, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		return DownloadResult{}, &TransferError{URL: art.url, Err: err}
	}
	committed = true

	o.metrics.ArtifactBytes("download", n)
	o.log(ctx).Info("image downloaded", "job_id", id, "path", target, "bytes", n)
	return DownloadResult{Path: target, Bytes: n, ContentType: mediaType(art.ContentType)}, nil
}

// FetchInline returns the image for id in memory, for embedding in a resource.
// The MIME type comes from the response header, then content sniffing, then image/jpeg.
func (o *Orchestrator) FetchInline(ctx context.Context, id string) (Artifact, error) {
	art, err := o.openReady(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	defer art.Body.Close()

	if art.Size > o.maxBytes {
		return Artifact{}, &TransferError{URL: art.url, Err: ErrArtifactTooLarge}
	}
	data, err := io.ReadAll(io.LimitReader(art.Body, o.maxBytes+1))
	if err != nil {
		return Artifact{}, &TransferError{URL: art.url, Err: err}
	}
	if int64(len(data)) > o.maxBytes {
		return Artifact{}, &TransferError{URL: art.url, Err: ErrArtifactTooLarge}
	}

	o.metrics.ArtifactBytes("inline", int64(len(data)))
	return Artifact{ID: id, Data: data, MIMEType: sniffMIME(art.ContentType, data)}, nil
}

type openArtifact struct {
	*bfl.Artifact
	url string
}

// openReady refreshes the job's status, checks it is ready and opens the
// transfer. No network transfer happens when the job is not ready.
func (o *Orchestrator) openReady(ctx context.Context, id string) (openArtifact, error) {
	j, err := o.Status(ctx, id)
	if err != nil {
		return openArtifact{}, err
	}
	if err := ready(j); err != nil {
		return openArtifact{}, err
	}
	art, err := o.provider.OpenArtifact(ctx, j.ResultURL)
	if err != nil {
		return openArtifact{}, &TransferError{URL: j.ResultURL, Err: err}
	}
	return openArtifact{Artifact: art, url: j.ResultURL}, nil
}

func (o *Orchestrator) resolveDest(id, dest, ext string) (string, error) {
	name := id + ext
	if dest == "" {
		return filepath.Join(o.baseDir(), name), nil
	}

	isDir := strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(os.PathSeparator))
	if !filepath.IsAbs(dest) && o.downloadDir != "" {
		dest = filepath.Join(o.downloadDir, dest)
	}
	if !isDir {
		if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
			isDir = true
		}
	}
	if isDir {
		return filepath.Join(dest, name), nil
	}
	return filepath.Clean(dest), nil
}

func (o *Orchestrator) baseDir() string {
	if o.downloadDir != "" {
		return o.downloadDir
	}
	return "."
}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// extension picks a file extension from the content type, then the URL path.
func extension(contentType, rawURL string) string {
	if ext, ok := extByType[mediaType(contentType)]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".jpg", ".jpeg", ".png", ".webp":
			return ext
		}
	}
	return ".jpg"
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func sniffMIME(contentType string, data []byte) string {
	if mt := mediaType(contentType); strings.HasPrefix(mt, "image/") {
		return mt
	}
	if len(data) > 0 {
		if mt := mediaType(mimetype.Detect(data).String()); strings.HasPrefix(mt, "image/") {
			return mt
		}
	}
	return defaultMIMEType
}
