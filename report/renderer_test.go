package report

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/dispatch"
)

var testClock = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

func sampleDispatch() dispatch.Dispatch {
	weight := 12.5
	notes := "Handle with care"
	dispatchedAt := testClock.Add(-2 * time.Hour)
	return dispatch.Dispatch{
		ID:              7,
		DispatchNumber:  "DN-2508-0007",
		CustomerID:      3,
		CustomerName:    "Acme Forgings",
		DispatchDate:    time.Date(2025, 8, 19, 0, 0, 0, 0, time.UTC),
		TransporterName: "BlueDart Logistics",
		VehicleNo:       "MH12AB1234",
		LRNumber:        "LR-88421",
		Status:          dispatch.StatusDispatched,
		Notes:           &notes,
		DispatchedAt:    &dispatchedAt,
		CartonCount:     2,
		TotalQty:        150,
		Cartons: []dispatch.CartonLine{
			{CartonID: 1, CartonNumber: "CT-2508-0001", WOID: 4, WONumber: "WO-2508-0001", BatchID: 9, Qty: 100, GrossWeightKg: &weight},
			{CartonID: 2, CartonNumber: "CT-2508-0002", WOID: 4, WONumber: "WO-2508-0001", BatchID: 9, Qty: 50},
		},
	}
}

// gotenbergStub fakes the convert endpoint and captures the posted HTML.
func gotenbergStub(t *testing.T, captured *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
			return
		}
		assert.Equal(t, "8.27", r.FormValue("paperWidth"))
		assert.Equal(t, "11.69", r.FormValue("paperHeight"))
		file, _, err := r.FormFile("files")
		if err != nil {
			t.Errorf("read files part: %v", err)
			return
		}
		defer file.Close()
		html, err := io.ReadAll(file)
		if err != nil {
			t.Errorf("read html: %v", err)
			return
		}
		*captured = string(html)
		_, _ = w.Write([]byte("MOCK-PDF"))
	}))
}

func newTestRenderer(t *testing.T, baseURL string) *Renderer {
	t.Helper()
	renderer, err := NewRenderer(NewClient(baseURL))
	require.NoError(t, err)
	renderer.now = func() time.Time { return testClock }
	return renderer
}

func TestDispatchNoteRendersThroughGotenberg(t *testing.T) {
	var html string
	srv := gotenbergStub(t, &html)
	defer srv.Close()

	renderer := newTestRenderer(t, srv.URL)
	pdf, err := renderer.DispatchNote(context.Background(), sampleDispatch())
	require.NoError(t, err)
	require.Equal(t, "MOCK-PDF", string(pdf))

	require.Contains(t, html, "DISPATCH NOTE")
	require.Contains(t, html, "DN-2508-0007")
	require.Contains(t, html, "Acme Forgings")
	require.Contains(t, html, "BlueDart Logistics")
	require.Contains(t, html, "MH12AB1234")
	require.Contains(t, html, "CT-2508-0001")
	require.Contains(t, html, "Handle with care")
	require.Contains(t, html, "Generated 20 Aug 2025 10:00 UTC")
}

func TestPackingListIncludesCartonRows(t *testing.T) {
	var html string
	srv := gotenbergStub(t, &html)
	defer srv.Close()

	renderer := newTestRenderer(t, srv.URL)
	pdf, err := renderer.PackingList(context.Background(), sampleDispatch())
	require.NoError(t, err)
	require.Equal(t, "MOCK-PDF", string(pdf))

	require.Contains(t, html, "PACKING LIST")
	require.Contains(t, html, "CT-2508-0001")
	require.Contains(t, html, "CT-2508-0002")
	require.Contains(t, html, "12.5")
	require.Contains(t, html, "2 cartons")
	require.Contains(t, html, "150")
}

func TestQuantityFormatting(t *testing.T) {
	require.Equal(t, "—", formatQty(0))
	require.Equal(t, "150", formatQty(150))
	require.Equal(t, "1,25,000", formatQty(125000))
	require.Equal(t, "—", formatWeight(nil))
	weight := 12.5
	require.Equal(t, "12.5", formatWeight(&weight))
}

func TestUnweighedCartonPrintsDash(t *testing.T) {
	var html string
	srv := gotenbergStub(t, &html)
	defer srv.Close()

	renderer := newTestRenderer(t, srv.URL)
	_, err := renderer.PackingList(context.Background(), sampleDispatch())
	require.NoError(t, err)
	require.Contains(t, html, "—")
}

func TestQuantitiesUseIndianGrouping(t *testing.T) {
	var html string
	srv := gotenbergStub(t, &html)
	defer srv.Close()

	d := sampleDispatch()
	d.TotalQty = 125000
	d.Cartons[0].Qty = 125000

	renderer := newTestRenderer(t, srv.URL)
	_, err := renderer.PackingList(context.Background(), d)
	require.NoError(t, err)
	require.Contains(t, html, "1,25,000")
}

func TestRenderSurfacesGotenbergFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("chromium exited"))
	}))
	defer srv.Close()

	renderer := newTestRenderer(t, srv.URL)
	_, err := renderer.DispatchNote(context.Background(), sampleDispatch())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.Contains(t, err.Error(), "chromium exited")
}

func TestNilRendererFails(t *testing.T) {
	var renderer *Renderer
	_, err := renderer.DispatchNote(context.Background(), sampleDispatch())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialised")
}

func TestPingChecksHealthEndpoint(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	require.NoError(t, NewClient(healthy.URL).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	require.Error(t, NewClient(down.URL).Ping(context.Background()))
}

func TestRenderEndpoint(t *testing.T) {
	var html string
	srv := gotenbergStub(t, &html)
	defer srv.Close()

	handler := NewHandler(NewClient(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := chi.NewRouter()
	handler.MountRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/render", bytes.NewBufferString(`{"html":"<h1>Test Certificate</h1>","filename":"certificate"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, `inline; filename=certificate.pdf`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "MOCK-PDF", rec.Body.String())
	require.Contains(t, html, "Test Certificate")

	empty := httptest.NewRequest(http.MethodPost, "/render", bytes.NewBufferString(`{"html":"  "}`))
	empty.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, empty)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
