// Package static pre-loads a directory of assets into memory as ready-made
// 200 responses keyed by normalized path.
package static

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/logger"
	"github.com/rohan-flutterint/minum/wire"
)

// gzipMinSize is the smallest asset worth compressing; below it the gzip
// framing outweighs any savings.
const gzipMinSize = 256

var defaultMimeTypes = map[string]string{
	".html": "text/html; charset=UTF-8",
	".htm":  "text/html; charset=UTF-8",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".wasm": "application/wasm",
	".pdf":  "application/pdf",
	".woff2": "font/woff2",
}

// Asset is one cached file: the pre-built plain response and, for
// compressible types, a gzip variant built at load time.
type Asset struct {
	plain   wire.Response
	gzipped *wire.Response
}

// Response picks the variant to serve. The gzip variant is only returned
// when the client advertised gzip and one was built.
func (a *Asset) Response(acceptsGzip bool) wire.Response {
	if acceptsGzip && a.gzipped != nil {
		return *a.gzipped
	}
	return a.plain
}

// AssetCache maps normalized paths to immutable pre-built responses. Mime
// registrations and Load happen at startup; lookups run concurrently.
type AssetCache struct {
	sync.RWMutex

	logger       logger.Logger
	dir          string
	cacheControl string
	mimeTypes    map[string]string
	assets       map[string]*Asset
}

func NewAssetCache(logger logger.Logger, dir string, cacheControl string) *AssetCache {
	mimeTypes := make(map[string]string, len(defaultMimeTypes))
	for suffix, mime := range defaultMimeTypes {
		mimeTypes[suffix] = mime
	}

	return &AssetCache{
		logger:       logger,
		dir:          dir,
		cacheControl: cacheControl,
		mimeTypes:    mimeTypes,
		assets:       make(map[string]*Asset),
	}
}

// RegisterMimeType adds or overrides a suffix-to-MIME mapping. Call before
// Load; files already cached keep the type they were built with.
func (c *AssetCache) RegisterMimeType(suffix, mime string) {
	c.Lock()
	defer c.Unlock()

	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	c.mimeTypes[strings.ToLower(suffix)] = mime
}

// Load walks the static directory and builds a response for every regular
// file. A missing directory is not an error; the cache just stays empty.
func (c *AssetCache) Load() error {
	c.Lock()
	defer c.Unlock()

	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		c.logger.Info("static-directory-absent", zap.String("directory", c.dir))
		return nil
	}

	return filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		key := strings.ToLower(filepath.ToSlash(rel))

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		c.assets[key] = c.buildAsset(key, data)
		return nil
	})
}

// Lookup returns the asset for a normalized path (lowercased, no leading
// slash) or nil on a miss.
func (c *AssetCache) Lookup(routeKey string) *Asset {
	c.RLock()
	defer c.RUnlock()

	return c.assets[routeKey]
}

func (c *AssetCache) NumAssets() int {
	c.RLock()
	defer c.RUnlock()

	return len(c.assets)
}

func (c *AssetCache) buildAsset(key string, data []byte) *Asset {
	mime := c.mimeForSuffix(filepath.Ext(key))

	extras := []wire.HeaderPair{{Name: "Content-Type", Value: mime}}
	if c.cacheControl != "" {
		extras = append(extras, wire.HeaderPair{Name: "Cache-Control", Value: c.cacheControl})
	}

	asset := &Asset{plain: wire.NewResponse(200, data, extras...)}

	if compressible(mime) && len(data) >= gzipMinSize {
		if compressed, ok := gzipBytes(data); ok {
			gz := wire.NewResponse(200, compressed, extras...).
				WithHeader("Content-Encoding", "gzip")
			asset.gzipped = &gz
		}
	}

	c.logger.Debug("loaded-static-asset",
		zap.String("path", key),
		zap.String("content_type", mime),
		zap.Int("bytes", len(data)),
		zap.Bool("gzip_variant", asset.gzipped != nil),
	)
	return asset
}

func (c *AssetCache) mimeForSuffix(suffix string) string {
	if mime, ok := c.mimeTypes[strings.ToLower(suffix)]; ok {
		return mime
	}
	return "application/octet-stream"
}

func compressible(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "text/"),
		strings.HasPrefix(mime, "application/javascript"),
		strings.HasPrefix(mime, "application/json"),
		strings.HasPrefix(mime, "application/xml"),
		strings.HasPrefix(mime, "image/svg"):
		return true
	}
	return false
}

// gzipBytes compresses data, reporting false when compression does not
// actually shrink it.
func gzipBytes(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(data) {
		return nil, false
	}
	return buf.Bytes(), true
}
