package osrm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(url string, timeout time.Duration) *Client {
	return NewClient(url, "driving", timeout, zap.NewNop())
}

func TestRouteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":12345.6,"duration":789.0}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2*time.Second)
	route, err := c.Route(context.Background(), 48.85, 2.35, 43.29, 5.37)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.DistanceMeters != 12345.6 || route.DurationSeconds != 789.0 {
		t.Fatalf("unexpected route: %+v", route)
	}
}

func TestRouteBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2*time.Second)
	if _, err := c.Route(context.Background(), 0, 0, 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRouteMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2*time.Second)
	if _, err := c.Route(context.Background(), 0, 0, 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRouteNoRouteFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2*time.Second)
	if _, err := c.Route(context.Background(), 0, 0, 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRouteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 50*time.Millisecond)
	if _, err := c.Route(context.Background(), 0, 0, 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}
