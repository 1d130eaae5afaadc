package render

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/quire/internal/epub"
	"github.com/jackzampolin/quire/internal/source"
)

// imageExts maps the media types an EPUB reader must support to the file
// extensions used in the cache.
var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// imageStore downloads inline chapter images into the book's cache
// directory. Files already cached are reused, so an interrupted build
// resumes without fetching them again.
type imageStore struct {
	dir    string
	src    source.Source
	logger *slog.Logger

	byURL map[string]*epub.Image // nil entries failed during this build
	order []*epub.Image
}

func newImageStore(dir string, src source.Source, logger *slog.Logger) *imageStore {
	return &imageStore{dir: dir, src: src, logger: logger, byURL: make(map[string]*epub.Image)}
}

// imageKey names a cached image after the hash of its URL.
func imageKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// get returns the image for url, or nil when it cannot be embedded.
func (s *imageStore) get(ctx context.Context, url string) *epub.Image {
	if img, seen := s.byURL[url]; seen {
		return img
	}
	img, err := s.load(ctx, url)
	if err != nil {
		s.logger.Warn("inline image skipped", "url", url, "error", err)
	}
	s.byURL[url] = img
	if img != nil {
		s.order = append(s.order, img)
	}
	return img
}

func (s *imageStore) load(ctx context.Context, url string) (*epub.Image, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, errors.New("unsupported image url")
	}
	key := imageKey(url)
	for mediaType, ext := range imageExts {
		data, err := os.ReadFile(filepath.Join(s.dir, key+ext))
		if err == nil {
			return &epub.Image{Name: key + ext, MediaType: mediaType, Data: data}, nil
		}
	}

	if s.src == nil {
		return nil, errors.New("no source to download from")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, mediaType, err := s.src.Media(ctx, url)
	if err != nil {
		return nil, err
	}
	ext, ok := imageExts[mediaType]
	if !ok {
		return nil, fmt.Errorf("unsupported media type %q", mediaType)
	}
	img := &epub.Image{Name: key + ext, MediaType: mediaType, Data: data}
	if err := writeFileAtomic(filepath.Join(s.dir, img.Name), data); err != nil {
		s.logger.Warn("failed to cache inline image", "url", url, "error", err)
	}
	return img, nil
}

// images returns every embeddable image in first-use order.
func (s *imageStore) images() []epub.Image {
	out := make([]epub.Image, len(s.order))
	for i, img := range s.order {
		out[i] = *img
	}
	return out
}

// sections converts rendered chapters into EPUB sections, resolving image
// lines to embedded images. Image lines that cannot be resolved are dropped.
func (s *imageStore) sections(ctx context.Context, chapters []Rendered) []epub.Chapter {
	out := make([]epub.Chapter, len(chapters))
	for i, ch := range chapters {
		sec := epub.Chapter{Index: ch.Index, Title: ch.Title}
		for _, p := range source.Paragraphs(ch.Body) {
			url, ok := source.ImageSource(p)
			if !ok {
				sec.Paragraphs = append(sec.Paragraphs, p)
				continue
			}
			if img := s.get(ctx, url); img != nil {
				if sec.Images == nil {
					sec.Images = make(map[int]string)
				}
				sec.Images[len(sec.Paragraphs)] = img.Name
				sec.Paragraphs = append(sec.Paragraphs, "")
			}
		}
		out[i] = sec
	}
	return out
}
