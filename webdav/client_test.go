package webdav

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropfindParsesMultistatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "0", r.Header.Get("Depth"))
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/cal/1.ics</D:href>
    <D:propstat>
      <D:prop><D:getetag>"abc"</D:getetag></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Propfind(context.Background(), "/cal/", "0", []byte("<propfind/>"))
	require.True(t, res.Ok())
	require.Len(t, res.Value.Responses, 1)
	assert.Equal(t, "/cal/1.ics", res.Value.Responses[0].Href)
}

func TestRetriesOn503ThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Get(context.Background(), "/obj.ics")
	require.True(t, res.Ok())
	assert.Equal(t, []byte("hello"), res.Value)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestExhaustsRetriesAndReturnsHTTPError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Get(context.Background(), "/obj.ics")
	assert.False(t, res.Ok())
	assert.Equal(t, KindHTTPError, res.Kind)
	assert.Equal(t, http.StatusInternalServerError, res.HTTP.StatusCode)
	assert.Equal(t, int32(maxRetries+1), atomic.LoadInt32(&attempts))
}

func TestParseRetryAfterAcceptsSecondsAndHTTPDate(t *testing.T) {
	wait, ok := parseRetryAfter("2")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	wait, ok = parseRetryAfter(future)
	require.True(t, ok)
	assert.InDelta(t, float64(5*time.Second), float64(wait), float64(2*time.Second))

	_, ok = parseRetryAfter("not a valid value")
	assert.False(t, ok)
}

func TestRetriesHonorHTTPDateRetryAfter(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.Header().Set("Retry-After", time.Now().Add(10*time.Millisecond).UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Get(context.Background(), "/obj.ics")
	require.True(t, res.Ok())
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestPutSendsIfMatchAndIfNoneMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/update.ics":
			assert.Equal(t, `"etag-1"`, r.Header.Get("If-Match"))
			w.Header().Set("ETag", `"etag-2"`)
			w.WriteHeader(http.StatusNoContent)
		case "/create.ics":
			assert.Equal(t, "*", r.Header.Get("If-None-Match"))
			w.Header().Set("ETag", `"etag-new"`)
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Put(context.Background(), "/update.ics", []byte("ICS"), `"etag-1"`, false)
	require.True(t, res.Ok())
	assert.False(t, res.Value.Created)
	assert.Equal(t, `"etag-2"`, res.Value.ETag)

	res2 := c.Put(context.Background(), "/create.ics", []byte("ICS"), "", true)
	require.True(t, res2.Ok())
	assert.True(t, res2.Value.Created)
}

func TestDeleteReturns404AsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Delete(context.Background(), "/gone.ics", "")
	assert.False(t, res.Ok())
	assert.Equal(t, KindHTTPError, res.Kind)
	assert.Equal(t, http.StatusNotFound, res.HTTP.StatusCode)
}

func TestRedirectSameOriginPolicyBlocksCrossHost(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer other.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := c.Get(context.Background(), "/redirecting")
	assert.False(t, res.Ok())
	assert.Equal(t, KindNetworkError, res.Kind)
}

func TestRedirectAllowCrossHostFollows(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer other.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRedirectPolicy(RedirectAllowCrossHost))
	require.NoError(t, err)

	res := c.Get(context.Background(), "/redirecting")
	require.True(t, res.Ok())
	assert.Equal(t, []byte("ok"), res.Value)
}

func TestBasicAuthTransportSetsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHTTPTransport(&BasicAuthTransport{Username: "alice", Password: "secret"}))
	require.NoError(t, err)

	res := c.Get(context.Background(), "/x")
	require.True(t, res.Ok())
}

func TestBearerAuthTransportSetsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHTTPTransport(&BearerAuthTransport{Token: "tok-123"}))
	require.NoError(t, err)

	res := c.Get(context.Background(), "/x")
	require.True(t, res.Ok())
}

func TestDavResultErrReturnsUnderlyingError(t *testing.T) {
	httpRes := HTTPErrorResult[string](&HTTPError{StatusCode: 500, Status: "500 Internal Server Error"})
	require.Error(t, httpRes.Err())

	netRes := NetworkErrorResult[string](fmt.Errorf("boom"))
	require.Error(t, netRes.Err())

	parseRes := ParseErrorResult[string](fmt.Errorf("bad xml"))
	require.Error(t, parseRes.Err())

	ok := Success("value")
	assert.NoError(t, ok.Err())
}
