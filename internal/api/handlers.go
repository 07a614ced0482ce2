package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ricemaid/ricemaid/internal/carbon"
	"github.com/ricemaid/ricemaid/internal/hydro"
	"github.com/ricemaid/ricemaid/internal/linegw"
	"github.com/ricemaid/ricemaid/internal/models"
	"github.com/ricemaid/ricemaid/internal/province"
)

// wstdTimeLayout is the datetime format the upstream water-resources API
// uses for start/end query parameters.
const wstdTimeLayout = "2006-01-02T15:04:05"

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// lineWebhookHandler verifies and parses a webhook delivery, then dispatches
// each event on its own goroutine. The platform expects a prompt 200; turn
// processing happens after the response is written.
func (s *Server) lineWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.lineWebhookHandler: processing webhook delivery", "path", r.URL.Path)
	if r.Header.Get("X-Line-Signature") == "" {
		slog.Warn("Server.lineWebhookHandler: missing signature header")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing X-Line-Signature header."))
		return
	}
	if s.events == nil {
		slog.Error("Server.lineWebhookHandler: event source not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Messaging gateway not configured"))
		return
	}

	events, err := s.events.ParseRequest(r)
	if err != nil {
		if errors.Is(err, linegw.ErrInvalidSignature) {
			slog.Warn("Server.lineWebhookHandler: signature verification failed")
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid signature."))
			return
		}
		slog.Warn("Server.lineWebhookHandler: failed to parse webhook body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body."))
		return
	}

	for _, ev := range events {
		go s.engine.HandleEvent(context.Background(), ev)
	}

	slog.Info("Server.lineWebhookHandler: webhook accepted", "events", len(events))
	// The messaging platform consumes this body directly, so it carries
	// only the message field rather than the usual response envelope.
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Webhook processed successfully."})
}

func (s *Server) carbonCreditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.CarbonCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.carbonCreditHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	est, err := carbon.EstimateEmission(req.Area, req.HarvestAge)
	if err != nil {
		slog.Warn("Server.carbonCreditHandler: validation failed", "error", err, "area", req.Area, "harvest_age", req.HarvestAge)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slog.Debug("Server.carbonCreditHandler: estimated emission", "area", req.Area, "harvest_age", req.HarvestAge, "methane", est.MethaneEmission)
	writeJSONResponse(w, http.StatusOK, models.CarbonCreditResponse{
		MethaneEmission: est.MethaneEmission,
		CarbonCredit:    est.CarbonCredit,
	})
}

func (s *Server) addWaterLevelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var wl models.WaterLevel
	if err := json.NewDecoder(r.Body).Decode(&wl); err != nil {
		slog.Warn("Server.addWaterLevelHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if wl.DeviceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: device_id"))
		return
	}
	if wl.CreateTime.IsZero() {
		wl.CreateTime = time.Now().UTC()
	}

	stored, err := s.st.AddWaterLevel(wl)
	if err != nil {
		slog.Error("Server.addWaterLevelHandler: failed to store reading", "error", err, "device_id", wl.DeviceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store water level"))
		return
	}
	slog.Info("Server.addWaterLevelHandler: reading stored", "device_id", stored.DeviceID, "id", stored.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(stored))
}

func (s *Server) getWaterLevelHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	wl, err := s.st.GetWaterLevelByDevice(deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Device not found in the database."))
			return
		}
		slog.Error("Server.getWaterLevelHandler: query failed", "error", err, "device_id", deviceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch water level"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(wl))
}

func (s *Server) listWaterLevelsHandler(w http.ResponseWriter, r *http.Request) {
	levels, err := s.st.ListWaterLevels()
	if err != nil {
		slog.Error("Server.listWaterLevelsHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch water levels"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(levels))
}

func (s *Server) recentWaterLevelsHandler(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDaysParam(w, r)
	if !ok {
		return
	}
	levels, err := s.st.ListRecentWaterLevels(days)
	if err != nil {
		slog.Error("Server.recentWaterLevelsHandler: query failed", "error", err, "days", days)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch water levels"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(levels))
}

func (s *Server) addFieldStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var fs models.FieldStats
	if err := json.NewDecoder(r.Body).Decode(&fs); err != nil {
		slog.Warn("Server.addFieldStatsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if fs.DeviceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: device_id"))
		return
	}
	if fs.CreateTime.IsZero() {
		fs.CreateTime = time.Now().UTC()
	}

	stored, err := s.st.AddFieldStats(fs)
	if err != nil {
		slog.Error("Server.addFieldStatsHandler: failed to store reading", "error", err, "device_id", fs.DeviceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store field stats"))
		return
	}
	slog.Info("Server.addFieldStatsHandler: reading stored", "device_id", stored.DeviceID, "id", stored.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(stored))
}

func (s *Server) getFieldStatsHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	fs, err := s.st.GetFieldStatsByDevice(deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Device not found in the database."))
			return
		}
		slog.Error("Server.getFieldStatsHandler: query failed", "error", err, "device_id", deviceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch field stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(fs))
}

func (s *Server) listFieldStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.ListFieldStats()
	if err != nil {
		slog.Error("Server.listFieldStatsHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch field stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) recentFieldStatsHandler(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDaysParam(w, r)
	if !ok {
		return
	}
	stats, err := s.st.ListRecentFieldStats(days)
	if err != nil {
		slog.Error("Server.recentFieldStatsHandler: query failed", "error", err, "days", days)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch field stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// parseDaysParam reads the {days} URL parameter and enforces the
// positive-window rule shared by the recent-readings endpoints.
func parseDaysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "days")
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("The number of days must be an integer."))
		return 0, false
	}
	if days <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("The number of days must be greater than 0."))
		return 0, false
	}
	return days, true
}

func (s *Server) setProvinceHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	provinceName := r.URL.Query().Get("province_name")
	if userID == "" || provinceName == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameters: user_id, province_name"))
		return
	}

	p, ok := province.Find(provinceName)
	if !ok {
		slog.Warn("Server.setProvinceHandler: unknown province", "province_name", provinceName)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid province name. Please try again."))
		return
	}

	if err := s.st.SetLineUserProvince(userID, p.NameTH); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("User not found in the database."))
			return
		}
		slog.Error("Server.setProvinceHandler: update failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to set province"))
		return
	}

	slog.Info("Server.setProvinceHandler: province updated", "user_id", userID, "province", p.NameTH)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Province successfully set to: "+p.NameTH, nil))
}

func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.classifier == nil {
		slog.Error("Server.predictHandler: classifier not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Prediction service not configured"))
		return
	}
	var req models.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.predictHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ImageBase64 == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: image_base64"))
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		slog.Warn("Server.predictHandler: invalid base64 payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid base64 image data"))
		return
	}

	pred, err := s.classifier.Predict(r.Context(), image)
	if err != nil {
		slog.Error("Server.predictHandler: prediction failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to classify image"))
		return
	}
	writeJSONResponse(w, http.StatusOK, pred)
}

// waterResourcesHandler proxies a water-resources query to the upstream API,
// validating parameters before the call and passing the payload through
// unchanged.
func (s *Server) waterResourcesHandler(rt hydro.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.water == nil {
			slog.Error("Server.waterResourcesHandler: hydrology client not configured")
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Water resources service not configured"))
			return
		}
		q := r.URL.Query()
		latest := true
		if raw := q.Get("latest"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid value for latest: must be true or false"))
				return
			}
			latest = parsed
		}

		params := hydro.FetchParams{
			ResourceType: rt,
			Interval:     q.Get("interval"),
			Latest:       latest,
			ProvinceCode: q.Get("province_code"),
			AmphoeCode:   q.Get("amphoe_code"),
			TambonCode:   q.Get("tambon_code"),
		}
		if !latest {
			start := q.Get("start_datetime")
			end := q.Get("end_datetime")
			if start == "" || end == "" {
				writeJSONResponse(w, http.StatusBadRequest, models.Error("start_datetime and end_datetime are required when latest is false."))
				return
			}
			var err error
			params.Start, err = time.Parse(wstdTimeLayout, start)
			if err != nil {
				writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid start_datetime: expected YYYY-MM-DDTHH:MM:SS"))
				return
			}
			params.End, err = time.Parse(wstdTimeLayout, end)
			if err != nil {
				writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid end_datetime: expected YYYY-MM-DDTHH:MM:SS"))
				return
			}
		}

		payload, err := s.water.Fetch(r.Context(), params)
		if err != nil {
			slog.Error("Server.waterResourcesHandler: upstream fetch failed", "error", err, "resource", string(rt))
			writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to fetch water resources data"))
			return
		}
		writeRawJSON(w, http.StatusOK, payload)
	}
}
