// Package models defines the core data structures for the RiceMaid backend.
//
// It includes IoT sensor rows, LINE user records, inbound messaging events,
// and the API response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidProvince = errors.New("invalid province name")
	ErrDaysOutOfRange  = errors.New("the number of days must be greater than 0")
	ErrEmptyImage      = errors.New("image payload cannot be empty")
)

// WaterLevel is a single water-level reading reported by a field device.
type WaterLevel struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	WaterLevel int       `json:"water_level"`
	CreateTime time.Time `json:"create_time"`
}

// FieldStats is a soil/temperature snapshot reported by a field device.
type FieldStats struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	SoilMoisture int       `json:"soil_moisture"`
	SoilStatus   string    `json:"soil_status"`
	Temperature  float64   `json:"temperature"`
	CreateTime   time.Time `json:"create_time"`
}

// LineUser is a registered LINE account with an optional home province.
type LineUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Province    string `json:"province"`
}

// WeatherDay is one day of (mocked or fetched) weather context.
type WeatherDay struct {
	Date           time.Time `json:"date"`
	TemperatureMin float64   `json:"temperature_min"`
	TemperatureMax float64   `json:"temperature_max"`
	Humidity       int       `json:"humidity"`
	WindSpeed      float64   `json:"wind_speed"`
	Condition      string    `json:"condition"`
}

// EventType tags an inbound messaging event.
type EventType string

const (
	// EventTypeText is a plain text message from a user.
	EventTypeText EventType = "text"
	// EventTypeImage is an image message; the content is fetched by ID.
	EventTypeImage EventType = "image"
)

// Event is one inbound messaging-platform event, already reduced to the
// fields the conversation core needs. It replaces framework-level event
// routing with an explicit tagged union.
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id"`
	ReplyToken string    `json:"reply_token"`
	Text       string    `json:"text,omitempty"`       // set for EventTypeText
	MessageID  string    `json:"message_id,omitempty"` // set for EventTypeImage
}

// SearchResult is one hit returned by the search collaborator.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// WaterSummary bundles the raw hydrology payloads for one province window.
type WaterSummary struct {
	Small  []byte `json:"small"`
	Medium []byte `json:"medium"`
}

// Prediction is the image classifier output: a BBCH growth-stage label and
// its probability in [0,1].
type Prediction struct {
	Label       string  `json:"predicted_label"`
	Probability float64 `json:"probability"`
}

// CarbonCreditRequest is the body of POST /carbon-credit/.
type CarbonCreditRequest struct {
	Area       float64 `json:"area"`
	HarvestAge int     `json:"harvest_age"`
}

// CarbonCreditResponse is the result of a carbon-credit estimation.
type CarbonCreditResponse struct {
	MethaneEmission float64 `json:"methane_emission"`
	CarbonCredit    float64 `json:"carbon_credit"`
}

// PredictionRequest is the body of POST /predictions/predict.
type PredictionRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// APIResponse provides a consistent envelope for API errors and results.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}

// Success creates a success API response with the given result.
func Success(result any) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage creates a success API response with a message and result.
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}
