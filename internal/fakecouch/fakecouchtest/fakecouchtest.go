// Package fakecouchtest starts fake document stores for tests.
package fakecouchtest

import (
	"net/http/httptest"
	"testing"

	"github.com/cutting-room-floor/backbone-couch/internal/fakecouch"
)

// NewServer starts an httptest server over a fresh fake store. The server is
// closed at the end of the test.
func NewServer(tb testing.TB, opts fakecouch.Options) (*httptest.Server, *fakecouch.Server) {
	tb.Helper()

	s := fakecouch.New(opts)
	ts := httptest.NewServer(s.Routes())
	tb.Cleanup(ts.Close)
	return ts, s
}
