package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ricemaid/ricemaid/internal/hydro"
	"github.com/ricemaid/ricemaid/internal/linegw"
	"github.com/ricemaid/ricemaid/internal/models"
	"github.com/ricemaid/ricemaid/internal/store"
)

type fakeEvents struct {
	events []models.Event
	err    error
}

func (f *fakeEvents) ParseRequest(r *http.Request) ([]models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	handled []models.Event
	done    chan struct{}
}

func newFakeEngine(expect int) *fakeEngine {
	return &fakeEngine{done: make(chan struct{}, expect)}
}

func (f *fakeEngine) HandleEvent(ctx context.Context, ev models.Event) {
	f.mu.Lock()
	f.handled = append(f.handled, ev)
	f.mu.Unlock()
	f.done <- struct{}{}
}

type fakeClassifier struct {
	pred   models.Prediction
	err    error
	images [][]byte
}

func (f *fakeClassifier) Predict(ctx context.Context, image []byte) (models.Prediction, error) {
	f.images = append(f.images, image)
	if f.err != nil {
		return models.Prediction{}, f.err
	}
	return f.pred, nil
}

type fakeWater struct {
	payload json.RawMessage
	err     error
	params  []hydro.FetchParams
}

func (f *fakeWater) Fetch(ctx context.Context, p hydro.FetchParams) (json.RawMessage, error) {
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type testServer struct {
	srv        *Server
	st         *store.InMemoryStore
	events     *fakeEvents
	engine     *fakeEngine
	classifier *fakeClassifier
	water      *fakeWater
	http       *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		st:         store.NewInMemoryStore(),
		events:     &fakeEvents{},
		engine:     newFakeEngine(8),
		classifier: &fakeClassifier{pred: models.Prediction{Label: "BBCH12", Probability: 0.88}},
		water:      &fakeWater{payload: json.RawMessage(`{"data":[]}`)},
	}
	srv, err := NewServer(ts.st, ts.events, ts.engine, ts.classifier, ts.water)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts.srv = srv
	ts.http = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.http.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeAPIResponse(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/line/webhook", map[string]any{"events": []any{}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decodeAPIResponse(t, resp); !strings.Contains(got.Message, "X-Line-Signature") {
		t.Errorf("message = %q", got.Message)
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	ts := newTestServer(t)
	ts.events.err = linegw.ErrInvalidSignature
	resp := ts.do(t, http.MethodPost, "/line/webhook", map[string]any{"events": []any{}},
		map[string]string{"X-Line-Signature": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decodeAPIResponse(t, resp); got.Message != "Invalid signature." {
		t.Errorf("message = %q", got.Message)
	}
}

func TestWebhookDispatchesEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.events.events = []models.Event{
		{Type: models.EventTypeText, UserID: "u1", ReplyToken: "t1", Text: "hello"},
		{Type: models.EventTypeImage, UserID: "u2", ReplyToken: "t2", MessageID: "m1"},
	}
	resp := ts.do(t, http.MethodPost, "/line/webhook", map[string]any{"events": []any{}},
		map[string]string{"X-Line-Signature": "sig"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// The platform-facing body is the bare message object, without the
	// status envelope the other endpoints use.
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Webhook processed successfully." {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["status"]; ok {
		t.Error("webhook response carries a status field")
	}

	// Events are handled asynchronously after the response is written.
	for i := 0; i < 2; i++ {
		select {
		case <-ts.engine.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event dispatch")
		}
	}
	ts.engine.mu.Lock()
	defer ts.engine.mu.Unlock()
	if len(ts.engine.handled) != 2 {
		t.Fatalf("handled %d events, want 2", len(ts.engine.handled))
	}
}

func TestCarbonCreditEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/carbon-credit/", models.CarbonCreditRequest{Area: 5, HarvestAge: 120}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out models.CarbonCreditResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.MethaneEmission < 2.927 || out.MethaneEmission > 2.929 {
		t.Errorf("methane = %v, want ~2.928", out.MethaneEmission)
	}
	if out.CarbonCredit < 0.0029 || out.CarbonCredit > 0.003 {
		t.Errorf("credit = %v, want ~0.002928", out.CarbonCredit)
	}
}

func TestCarbonCreditEndpointValidation(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body models.CarbonCreditRequest
	}{
		{name: "zero area", body: models.CarbonCreditRequest{Area: 0, HarvestAge: 120}},
		{name: "negative age", body: models.CarbonCreditRequest{Area: 5, HarvestAge: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/carbon-credit/", tt.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestWaterLevelEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/iot/water-level/", models.WaterLevel{DeviceID: "dev-1", WaterLevel: 33}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d, want 200", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/iot/water-level/dev-1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/iot/water-level/no-such", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing device status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/iot/water-level/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/iot/water-level/recent/7", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recent status = %d, want 200", resp.StatusCode)
	}
}

func TestWaterLevelRequiresDeviceID(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/iot/water-level/", models.WaterLevel{WaterLevel: 33}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRecentDaysValidation(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/iot/water-level/recent/0", "/iot/field-stats/recent/-3"} {
		resp := ts.do(t, http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", path, resp.StatusCode)
		}
		if got := decodeAPIResponse(t, resp); got.Message != "The number of days must be greater than 0." {
			t.Errorf("%s message = %q", path, got.Message)
		}
	}
	resp := ts.do(t, http.MethodGet, "/iot/water-level/recent/abc", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-integer days status = %d, want 400", resp.StatusCode)
	}
}

func TestFieldStatsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	body := models.FieldStats{DeviceID: "dev-9", SoilMoisture: 55, SoilStatus: "Wet", Temperature: 29.4}
	resp := ts.do(t, http.MethodPost, "/iot/field-stats/", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d, want 200", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/iot/field-stats/dev-9", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/iot/field-stats/absent", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing device status = %d, want 404", resp.StatusCode)
	}
}

func TestSetProvince(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.st.SaveLineUser(models.LineUser{UserID: "U1", DisplayName: "Somchai"}); err != nil {
		t.Fatalf("SaveLineUser: %v", err)
	}

	t.Run("invalid province", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/line-user/set-province?user_id=U1&province_name=Atlantis", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		if got := decodeAPIResponse(t, resp); got.Message != "Invalid province name. Please try again." {
			t.Errorf("message = %q", got.Message)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/line-user/set-province?user_id=nobody&province_name=Bangkok", nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		if got := decodeAPIResponse(t, resp); got.Message != "User not found in the database." {
			t.Errorf("message = %q", got.Message)
		}
	})

	t.Run("success stores thai name", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/line-user/set-province?user_id=U1&province_name=Bangkok", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got := decodeAPIResponse(t, resp); !strings.Contains(got.Message, "กรุงเทพมหานคร") {
			t.Errorf("message = %q", got.Message)
		}
		u, err := ts.st.GetLineUser("U1")
		if err != nil {
			t.Fatalf("GetLineUser: %v", err)
		}
		if u.Province != "กรุงเทพมหานคร" {
			t.Errorf("stored province = %q", u.Province)
		}
	})

	t.Run("missing params", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/line-user/set-province", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestPredictEndpoint(t *testing.T) {
	ts := newTestServer(t)
	image := []byte("jpeg-bytes")
	body := models.PredictionRequest{ImageBase64: base64.StdEncoding.EncodeToString(image)}
	resp := ts.do(t, http.MethodPost, "/predictions/predict", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var pred models.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pred.Label != "BBCH12" {
		t.Errorf("label = %q, want BBCH12", pred.Label)
	}
	if len(ts.classifier.images) != 1 || string(ts.classifier.images[0]) != "jpeg-bytes" {
		t.Errorf("classifier received %v", ts.classifier.images)
	}
}

func TestPredictEndpointRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/predictions/predict", models.PredictionRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty image status = %d, want 400", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/predictions/predict", models.PredictionRequest{ImageBase64: "not-base64!!!"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad base64 status = %d, want 400", resp.StatusCode)
	}
}

func TestWaterResourcesProxy(t *testing.T) {
	ts := newTestServer(t)

	t.Run("latest", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/wstd/twsapi/v1.0/SmallsizedWaterResources?interval=P-Daily&latest=true&province_code=72", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		p := ts.water.params[len(ts.water.params)-1]
		if p.ResourceType != hydro.ResourceSmall || !p.Latest || p.ProvinceCode != "72" {
			t.Errorf("params = %+v", p)
		}
	})

	t.Run("range requires start and end", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/wstd/twsapi/v1.0/SmallsizedWaterResources?latest=false", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("range passes parsed times", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/wstd/twsapi/v1.0/MediumsizedWaterResources?latest=false&start_datetime=2026-08-01T00:00:00&end_datetime=2026-08-07T00:00:00", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		p := ts.water.params[len(ts.water.params)-1]
		if p.ResourceType != hydro.ResourceMedium || p.Latest {
			t.Errorf("params = %+v", p)
		}
		if p.Start.Day() != 1 || p.End.Day() != 7 {
			t.Errorf("range = %v .. %v", p.Start, p.End)
		}
	})
}

func TestTrustedHostMiddleware(t *testing.T) {
	st := store.NewInMemoryStore()
	srv, err := NewServer(st, &fakeEvents{}, newFakeEngine(1), nil, nil, WithAllowedHosts([]string{"ricemaid.example.com"}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "evil.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("foreign host status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "ricemaid.example.com:8000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("allowed host status = %d, want 200", rec.Code)
	}
}
