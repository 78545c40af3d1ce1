package geocode

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New()
	c.BaseURL = ts.URL
	return c
}

func TestSearch_FirstMatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Montreal, Canada" {
			t.Errorf("q=%q", got)
		}
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("user-agent=%q", got)
		}
		_, _ = w.Write([]byte(`[{"lat":"45.5017","lon":"-73.5673","display_name":"Montréal, Québec, Canada"}]`))
	})

	res, err := c.Search(context.Background(), "Montreal, Canada")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if math.Abs(res.Lat-45.5017) > 1e-9 || math.Abs(res.Lon+73.5673) > 1e-9 {
		t.Fatalf("res=%+v", res)
	}
	if res.Display != "Montréal, Québec, Canada" {
		t.Fatalf("display=%q", res.Display)
	}
}

func TestSearch_NoMatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := c.Search(context.Background(), "nowhere at all")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	c := New()
	if _, err := c.Search(context.Background(), "   "); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	if _, err := c.Search(context.Background(), "Tokyo"); err == nil {
		t.Fatalf("expected error")
	}
}
