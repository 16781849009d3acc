package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/calder-ross/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestClientIPResolver_UntrustedPeerIgnoresHeaders(t *testing.T) {
	res := pkghttp.NewClientIPResolver(nil)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.50:41234"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")

	assert.Equal(t, "203.0.113.50", res.Resolve(req))
}

func TestClientIPResolver_TrustedProxyHonoursForwardedFor(t *testing.T) {
	res := pkghttp.NewClientIPResolver([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8443"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.1.2.3")

	assert.Equal(t, "198.51.100.1", res.Resolve(req))
}

func TestClientIPResolver_SkipsGarbageForwardedEntries(t *testing.T) {
	res := pkghttp.NewClientIPResolver([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8443"
	req.Header.Set("X-Forwarded-For", "not-an-ip, 198.51.100.9")

	assert.Equal(t, "198.51.100.9", res.Resolve(req))
}

func TestClientIPResolver_FallsBackToRealIP(t *testing.T) {
	res := pkghttp.NewClientIPResolver([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8443"
	req.Header.Set("X-Real-IP", "198.51.100.7")

	assert.Equal(t, "198.51.100.7", res.Resolve(req))
}

func TestClientIPResolver_NoHeadersUsesPeer(t *testing.T) {
	res := pkghttp.NewClientIPResolver([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8443"

	assert.Equal(t, "10.1.2.3", res.Resolve(req))
}

func TestNewClientIPResolver_SkipsInvalidCIDRs(t *testing.T) {
	res := pkghttp.NewClientIPResolver([]string{"nonsense", "10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8443"
	req.Header.Set("X-Real-IP", "198.51.100.7")

	assert.Equal(t, "198.51.100.7", res.Resolve(req))
}
