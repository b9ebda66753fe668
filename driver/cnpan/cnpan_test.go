package cnpan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestCallMapsStatusCodesToErrorKinds(t *testing.T) {
	cases := []struct {
		status  int
		wantNil bool
		want    driver.ErrorKind
	}{
		{status: http.StatusOK, wantNil: true},
		{status: http.StatusTooManyRequests, want: driver.KindRateLimited},
		{status: http.StatusUnauthorized, want: driver.KindAuth},
		{status: http.StatusForbidden, want: driver.KindAuth},
		{status: http.StatusInternalServerError, want: driver.KindTransient},
		{status: http.StatusBadRequest, want: driver.KindPermanent},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			if tc.status == http.StatusOK {
				w.Write([]byte(`{}`))
			}
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "https://example.com")
		err := c.Call(context.Background(), http.MethodGet, "/x", nil, &map[string]any{})
		if tc.wantNil {
			if err != nil {
				t.Errorf("status %d: got error %v, want nil", tc.status, err)
			}
			continue
		}
		de, ok := err.(*driver.Error)
		if !ok {
			t.Fatalf("status %d: got %T, want *driver.Error", tc.status, err)
		}
		if de.Kind != tc.want {
			t.Errorf("status %d: got kind %v, want %v", tc.status, de.Kind, tc.want)
		}
	}
}

func TestCallSendsAuthHeaders(t *testing.T) {
	var gotCookie, gotAuth, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("Referer")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "https://example.com/")
	c.Cookie = "session=abc"
	c.Token = "Bearer tok"
	if err := c.Call(context.Background(), http.MethodGet, "/x", nil, &map[string]any{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotCookie != "session=abc" {
		t.Errorf("got Cookie header %q, want %q", gotCookie, "session=abc")
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("got Authorization header %q, want %q", gotAuth, "Bearer tok")
	}
	if gotReferer != "https://example.com/" {
		t.Errorf("got Referer header %q, want %q", gotReferer, "https://example.com/")
	}
}

func TestOpenStreamSetsRangeHeader(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	rd, err := c.OpenStream(context.Background(), srv.URL, &driver.Range{Start: 10, End: 20})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rd.Close()
	if gotRange != "bytes=10-19" {
		t.Errorf("got Range header %q, want %q", gotRange, "bytes=10-19")
	}
}

func TestOpenStreamToEndOmitsUpperBound(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	rd, err := c.OpenStream(context.Background(), srv.URL, &driver.Range{Start: 5, End: -1})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rd.Close()
	if gotRange != "bytes=5-" {
		t.Errorf("got Range header %q, want %q", gotRange, "bytes=5-")
	}
}

func TestOpenStreamRangeNotSatisfiable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.OpenStream(context.Background(), srv.URL, &driver.Range{Start: 0, End: 10})
	de, ok := err.(*driver.Error)
	if !ok {
		t.Fatalf("got %T, want *driver.Error", err)
	}
	if de.Kind != driver.KindRangeNotSatisfiable {
		t.Errorf("got kind %v, want KindRangeNotSatisfiable", de.Kind)
	}
}
