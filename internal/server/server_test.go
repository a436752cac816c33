package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neurowhai/firemap/internal/captcha"
	"github.com/neurowhai/firemap/internal/feeds/activefire"
	"github.com/neurowhai/firemap/internal/feeds/cctv"
	"github.com/neurowhai/firemap/internal/feeds/dangerplace"
	"github.com/neurowhai/firemap/internal/feeds/fireevent"
	"github.com/neurowhai/firemap/internal/feeds/forecast"
	"github.com/neurowhai/firemap/internal/report"
	"github.com/neurowhai/firemap/internal/shelter"
	"github.com/neurowhai/firemap/internal/wind"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestHandler(t *testing.T, dev bool) http.Handler {
	t.Helper()

	staticDir := t.TempDir()
	writeFile(t, filepath.Join(staticDir, "index.html"), "<html>fire map</html>")
	writeFile(t, filepath.Join(staticDir, "test", "secret.html"), "test page")
	writeFile(t, filepath.Join(staticDir, "app.js"), "console.log(1)")

	dataDir := t.TempDir()
	writeFile(t, filepath.Join(dataDir, "stninfo.csv"), "code,s,e,h,name,lat,lon\n")
	writeFile(t, filepath.Join(dataDir, "district_code.txt"), "1101")
	writeFile(t, filepath.Join(dataDir, "danger_places.csv"), "h\naddr,1,2,0,name\n")

	fc, err := forecast.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	dp, err := dangerplace.Load(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	wd, err := wind.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	return New(Config{
		StaticDir:   staticDir,
		Dev:         dev,
		Captcha:     captcha.NewService(),
		Report:      report.NewService(report.Options{}),
		Shelter:     shelter.NewService(shelter.Options{}),
		ActiveFire:  activefire.New(),
		CCTV:        cctv.New("key"),
		FireEvent:   fireevent.New(),
		Forecast:    fc,
		DangerPlace: dp,
		Wind:        wd,
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIndex(t *testing.T) {
	h := newTestHandler(t, false)
	w := get(h, "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "fire map") {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	h := newTestHandler(t, false)
	if w := get(h, "/app.js"); w.Code != http.StatusOK {
		t.Fatalf("static file: got %d", w.Code)
	}
}

func TestTestPagesGatedInProd(t *testing.T) {
	prod := newTestHandler(t, false)
	if w := get(prod, "/test/secret.html"); w.Code != http.StatusNotFound {
		t.Fatalf("test page should 404 in prod, got %d", w.Code)
	}

	dev := newTestHandler(t, true)
	if w := get(dev, "/test/secret.html"); w.Code != http.StatusOK {
		t.Fatalf("test page should serve in dev, got %d", w.Code)
	}
}

func TestCaptchaRoute(t *testing.T) {
	h := newTestHandler(t, false)
	w := get(h, "/captcha?channel=1")

	if w.Code != http.StatusOK {
		t.Fatalf("captcha failed: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "captcha_1" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("captcha_1 cookie not set")
	}
}

func TestTestCaptchaDevOnly(t *testing.T) {
	prod := newTestHandler(t, false)
	if w := get(prod, "/test-captcha?channel=0&answer=1"); w.Code != http.StatusNotFound {
		t.Fatalf("test-captcha should 404 in prod, got %d", w.Code)
	}

	dev := newTestHandler(t, true)
	if w := get(dev, "/test-captcha?channel=0&answer=1"); w.Code != http.StatusOK || w.Body.String() != "Fail!" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestWindMapUnknownID(t *testing.T) {
	h := newTestHandler(t, false)
	if w := get(h, "/wind-map?id=12345"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown image id should 404, got %d", w.Code)
	}
	if w := get(h, "/wind-map?id=bogus"); w.Code != http.StatusNotFound {
		t.Fatalf("bad image id should 404, got %d", w.Code)
	}
}

func TestCCTVUnknownName(t *testing.T) {
	h := newTestHandler(t, false)
	w := get(h, "/cctv?name=nope")
	if w.Code != http.StatusBadRequest || w.Body.String() != "Not found" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestArtifactRoutesServeJSON(t *testing.T) {
	h := newTestHandler(t, false)
	for _, path := range []string{
		"/active-fire-map", "/cctv-map", "/fire-event-map",
		"/fire-forecast-map", "/fire-warning", "/danger-place-map",
		"/shelter-map", "/report-map", "/wind-map-metadata",
	} {
		w := get(h, path)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: got %d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: unexpected content type %q", path, ct)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHandler(t, false)
	if w := get(h, "/"); w.Header().Get("X-Request-Id") == "" {
		t.Fatal("response should carry a request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "upstream-id")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("X-Request-Id") != "upstream-id" {
		t.Fatal("proxy-supplied request id should be preserved")
	}
}

func TestCORSDevOnly(t *testing.T) {
	dev := newTestHandler(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/report", nil)
	w := httptest.NewRecorder()
	dev.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("dev preflight: got %d %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	prod := newTestHandler(t, false)
	if w := get(prod, "/"); w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("prod responses must not carry CORS headers")
	}
}
