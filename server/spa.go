package server

import (
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-bff-server/gate"
	"github.com/rs/zerolog"
)

const spaEntryDocument = "index.html"

// SPAHost serves the single page application: files from the static
// directory, or a reverse proxy to the UI dev server in development.
// Paths that are not files get the entry document so client side routing
// works.
type SPAHost struct {
	root  fs.FS
	files http.Handler
	dev   *httputil.ReverseProxy
}

func NewSPAHost(staticDir, devServerURL string) (*SPAHost, error) {
	if devServerURL != "" {
		target, err := url.Parse(devServerURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("[server NewSPAHost] invalid UI dev server url %q", devServerURL)
		}
		dev := httputil.NewSingleHostReverseProxy(target)
		dev.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("UI dev server unreachable")
			http.Error(w, "UI dev server unreachable", http.StatusBadGateway)
		}
		return &SPAHost{dev: dev}, nil
	}

	root := os.DirFS(staticDir)
	return &SPAHost{root: root, files: http.FileServerFS(root)}, nil
}

// IsAsset reports whether p names a file the host can serve
func (h *SPAHost) IsAsset(p string) bool {
	if h.dev != nil {
		return gate.LooksLikeAsset(p)
	}
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		return false
	}
	info, err := fs.Stat(h.root, name)
	return err == nil && !info.IsDir()
}

func (h *SPAHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.dev != nil {
		h.dev.ServeHTTP(w, r)
		return
	}
	if h.IsAsset(r.URL.Path) {
		w.Header().Set("Cache-Control", cacheControlFor(r.URL.Path))
		h.files.ServeHTTP(w, r)
		return
	}

	// The entry document references hashed bundles, it must always revalidate
	w.Header().Set("Cache-Control", "no-store")
	if err := streamFile(w, r, h.root, spaEntryDocument); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("SPA entry document unavailable")
		http.Error(w, "404 - Page Not Found", http.StatusNotFound)
	}
}

func streamFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, fileName string) error {
	data, err := fs.ReadFile(fsys, fileName)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		// Fallback for unknown extensions
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s content: %w", fileName, err)
	}
	return nil
}

// cacheControlFor picks the cache lifetime of a static file. Bundler
// output under /assets/ carries a content hash in its name.
func cacheControlFor(p string) string {
	switch {
	case strings.HasPrefix(p, "/assets/"):
		return "public, max-age=31536000, immutable"
	case strings.HasSuffix(p, ".html"):
		return "no-cache"
	default:
		return "public, max-age=300, must-revalidate"
	}
}
