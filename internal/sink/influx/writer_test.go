package influx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
)

func floatPtr(v float64) *float64 { return &v }

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Timestamp:      time.Unix(1700000000, 0).UTC(),
		SiteName:       "Home Site",
		BatteryPercent: floatPtr(72.5),
		Power: &domain.PowerFlows{
			Solar: floatPtr(2000),
			Load:  floatPtr(1600),
		},
		GridStatus: "UP",
	}
}

func TestBuildLine(t *testing.T) {
	w := New(Config{Measurement: "powerwall"})
	line := w.BuildLine(testSnapshot())

	if !strings.HasPrefix(line, "powerwall,site=Home\\ Site ") {
		t.Errorf("line prefix wrong: %s", line)
	}
	if !strings.HasSuffix(line, " 1700000000000000000") {
		t.Errorf("timestamp suffix wrong: %s", line)
	}
	for _, want := range []string{"battery_percentage=72.5", "solar_power_w=2000", `grid_status="UP"`} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %s", want, line)
		}
	}
	// Fields are sorted, so the line is byte-stable across runs.
	if again := w.BuildLine(testSnapshot()); again != line {
		t.Error("line not deterministic")
	}
}

func TestBuildLineEmptySnapshot(t *testing.T) {
	w := New(Config{})
	if line := w.BuildLine(&domain.Snapshot{}); line != "" {
		t.Errorf("empty snapshot produced line: %s", line)
	}
}

func TestBuildLineUnknownSite(t *testing.T) {
	w := New(Config{})
	snap := testSnapshot()
	snap.SiteName = ""
	if line := w.BuildLine(snap); !strings.Contains(line, ",site=unknown ") {
		t.Errorf("missing site fallback: %s", line)
	}
}

func TestWritePostsLineProtocol(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := New(Config{URL: srv.URL, Org: "home", Bucket: "energy", Token: "secret"})
	if err := w.Write(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/api/v2/write?") {
		t.Errorf("path = %s", gotPath)
	}
	for _, want := range []string{"org=home", "bucket=energy", "precision=ns"} {
		if !strings.Contains(gotPath, want) {
			t.Errorf("query missing %q: %s", want, gotPath)
		}
	}
	if gotAuth != "Token secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if !strings.HasPrefix(gotBody, "powerwall,") {
		t.Errorf("body = %q", gotBody)
	}
}

func TestWriteSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bucket not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	w := New(Config{URL: srv.URL})
	err := w.Write(context.Background(), testSnapshot())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "bucket not found") {
		t.Errorf("error lacks status and body: %v", err)
	}
}
