// Package attachment builds references to local files uploaded next to a
// report.
package attachment

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"
	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
)

const (
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypePprof       = "application/vnd.google.protobuf+gzip"
)

// Collect turns attachment specs into references. A spec is a file path,
// optionally followed by "=<content type>". Files that do not exist are kept;
// the uploader skips them.
func Collect(logger zerolog.Logger, specs []string) []model.AttachmentRef {
	refs := make([]model.AttachmentRef, 0, len(specs))
	for _, spec := range specs {
		path, contentType := splitSpec(spec)
		if path == "" {
			continue
		}
		if contentType == "" {
			contentType = detectContentType(logger, path)
		}
		ref := model.AttachmentRef{
			ContentType: contentType,
			ID:          uuid.NewString(),
			Path:        path,
		}
		logger.Debug().
			Str("id", ref.ID).
			Str("path", ref.Path).
			Str("content_type", ref.ContentType).
			Msg("Collected attachment")
		refs = append(refs, ref)
	}
	return refs
}

// IDs returns the identifiers of refs in order.
func IDs(refs []model.AttachmentRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func splitSpec(spec string) (path, contentType string) {
	spec = strings.TrimSpace(spec)
	if i := strings.LastIndex(spec, "="); i > 0 && strings.Contains(spec[i+1:], "/") {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}

func isProfile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, ".pb.gz") ||
		strings.HasSuffix(name, ".pprof") ||
		strings.HasSuffix(name, ".prof")
}

func detectContentType(logger zerolog.Logger, path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ContentTypeOctetStream
	}
	defer f.Close()

	if isProfile(path) {
		prof, err := profile.Parse(f)
		if err == nil {
			logger.Debug().
				Str("path", path).
				Int("samples", len(prof.Sample)).
				Msg("Attachment is a pprof profile")
			return ContentTypePprof
		}
		logger.Warn().Err(err).Str("path", path).Msg("Failed to parse profile attachment")
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return ContentTypeOctetStream
		}
	}

	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ContentTypeOctetStream
	}
	return http.DetectContentType(head[:n])
}
