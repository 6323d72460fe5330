package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest("GET", "/?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("limit = %d, want %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("offset = %d, want 0", p.Offset)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := paramsFor(t, "limit=9999")
	if p.Limit != MaxLimit {
		t.Errorf("limit = %d, want %d", p.Limit, MaxLimit)
	}

	p = paramsFor(t, "limit=-5&offset=-3")
	if p.Limit != DefaultLimit {
		t.Errorf("limit = %d, want %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("offset = %d, want 0", p.Offset)
	}
}

func TestNewResponseHasMore(t *testing.T) {
	resp := NewResponse([]int{1, 2, 3}, 10, 3, 0)
	if !resp.HasMore {
		t.Error("expected HasMore with 7 rows remaining")
	}
	resp = NewResponse([]int{1}, 10, 3, 9)
	if resp.HasMore {
		t.Error("expected no more rows past the end")
	}
}

func TestHasNextAndNextOffset(t *testing.T) {
	p := Params{Limit: 20, Offset: 20}
	if !p.HasNext(50) {
		t.Error("expected a next page at offset 40")
	}
	if got := p.NextOffset(); got != 40 {
		t.Errorf("NextOffset = %d, want 40", got)
	}
	if p.HasNext(30) {
		t.Error("expected no next page when the total is exhausted")
	}
}
