package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.HandlerFunc) http.HandlerFunc {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}

	h := ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}, mark("first"), mark("second"))
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestRecoverMiddleware(t *testing.T) {
	s := &Server{}
	h := ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}, s.RecoverMiddleware)

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), `"code":"internal"`)
}

func TestWWWRedirect(t *testing.T) {
	s := &Server{}
	h := ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {}, s.WWWRedirectMiddleware)

	r := httptest.NewRequest(http.MethodGet, "http://www.gateway.test/pages/home.html", nil)
	w := httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusMovedPermanently, w.Code)
	require.Equal(t, "http://gateway.test/pages/home.html", w.Header().Get("Location"))
}
