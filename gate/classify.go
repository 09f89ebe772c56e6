package gate

import (
	"net/http"
	"path"
	"strings"
)

// Kind tells browser navigations apart from programmatic calls. Only
// navigations are ever redirected to the login flow.
type Kind int

const (
	KindAPI Kind = iota
	KindNavigation
)

func (k Kind) String() string {
	if k == KindNavigation {
		return "navigation"
	}
	return "api"
}

// Classify decides the kind of a request. Anything under the API prefix,
// anything sent by script and anything not accepting HTML is an API call.
func Classify(r *http.Request, apiPrefix string) Kind {
	if UnderPrefix(apiPrefix, r.URL.Path) {
		return KindAPI
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return KindAPI
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		return KindAPI
	}
	return KindNavigation
}

// LooksLikeAsset reports whether the last path segment has a file
// extension, e.g. /assets/app.js.
func LooksLikeAsset(p string) bool {
	return path.Ext(p) != ""
}
