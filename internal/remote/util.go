package remote

import "strings"

// allowedOriginSuffix and allowedOriginExact mirror the hosted relay's v1
// CORS policy: only the product's own web client may open a connection.
const (
	allowedOriginExact  = "https://ccbox.app"
	allowedOriginSuffix = ".ccbox.app"
)

// isAllowedClientOrigin reports whether origin may open a remote
// connection: https only, and either the apex domain or a subdomain of it.
// A browser client omits the header entirely for non-CORS contexts (a
// native app, curl), which this endpoint also allows since it has no
// cookie-based session to leak.
func isAllowedClientOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if !strings.HasPrefix(origin, "https://") {
		return false
	}
	if origin == allowedOriginExact {
		return true
	}
	host := strings.TrimPrefix(origin, "https://")
	return strings.HasSuffix(host, allowedOriginSuffix)
}
