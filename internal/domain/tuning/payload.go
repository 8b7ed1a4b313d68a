package tuning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/calmmind/internal/domain/model"
)

// Request defaults.
const (
	DefaultCohortID          = "balanced"
	DefaultAvgScreenMinutes  = 300
	DefaultAvgLongestSession = 90
	DefaultAvgPressureDrop   = 5
)

// Cohort names assigned by BuildPayload.
const (
	CohortNightOwls    = "night-owls"
	CohortMeetingHeavy = "meeting-heavy"
	CohortBalanced     = DefaultCohortID
)

// Request is the wire form of a submission; absent fields are nil.
type Request struct {
	CohortID          *string  `json:"cohortId,omitempty"`
	AvgScreenMinutes  *float64 `json:"avgScreenMinutes,omitempty"`
	AvgLongestSession *float64 `json:"avgLongestSession,omitempty"`
	AvgPressureDrop   *float64 `json:"avgPressureDrop,omitempty"`
}

// UnmarshalJSON accepts each metric as a JSON number or a numeric string,
// so "410" reads as 410 and a blank string as 0. null counts as absent.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		CohortID          *string         `json:"cohortId"`
		AvgScreenMinutes  json.RawMessage `json:"avgScreenMinutes"`
		AvgLongestSession json.RawMessage `json:"avgLongestSession"`
		AvgPressureDrop   json.RawMessage `json:"avgPressureDrop"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Request{CohortID: raw.CohortID}
	var err error
	if out.AvgScreenMinutes, err = decodeNumber("avgScreenMinutes", raw.AvgScreenMinutes); err != nil {
		return err
	}
	if out.AvgLongestSession, err = decodeNumber("avgLongestSession", raw.AvgLongestSession); err != nil {
		return err
	}
	if out.AvgPressureDrop, err = decodeNumber("avgPressureDrop", raw.AvgPressureDrop); err != nil {
		return err
	}
	*r = out
	return nil
}

func decodeNumber(field string, raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, field)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		f = 0
		return &f, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %s %q is not a number", ErrInvalidRequest, field, s)
	}
	return &f, nil
}

// Payload fills absent fields with defaults. An empty cohortId is treated
// as absent.
func (r Request) Payload() model.CohortPayload {
	p := model.CohortPayload{
		CohortID:          DefaultCohortID,
		AvgScreenMinutes:  DefaultAvgScreenMinutes,
		AvgLongestSession: DefaultAvgLongestSession,
		AvgPressureDrop:   DefaultAvgPressureDrop,
	}
	if r.CohortID != nil && *r.CohortID != "" {
		p.CohortID = *r.CohortID
	}
	if r.AvgScreenMinutes != nil {
		p.AvgScreenMinutes = *r.AvgScreenMinutes
	}
	if r.AvgLongestSession != nil {
		p.AvgLongestSession = *r.AvgLongestSession
	}
	if r.AvgPressureDrop != nil {
		p.AvgPressureDrop = *r.AvgPressureDrop
	}
	return p
}

// NewRequest is the full request for p.
func NewRequest(p model.CohortPayload) Request {
	return Request{
		CohortID:          &p.CohortID,
		AvgScreenMinutes:  &p.AvgScreenMinutes,
		AvgLongestSession: &p.AvgLongestSession,
		AvgPressureDrop:   &p.AvgPressureDrop,
	}
}

// PickCohort buckets a day by its usage pattern.
func PickCohort(day model.DailyMetrics) string {
	switch {
	case day.ScreenMinutes > 360:
		return CohortNightOwls
	case day.StressMeetings >= 5:
		return CohortMeetingHeavy
	default:
		return CohortBalanced
	}
}

// BuildPayload summarizes one day for submission. pressureDrop is the raw
// drop in hPa for that day.
func BuildPayload(day model.DailyMetrics, pressureDrop float64) model.CohortPayload {
	return model.CohortPayload{
		CohortID:          PickCohort(day),
		AvgScreenMinutes:  day.ScreenMinutes,
		AvgLongestSession: day.LongestSessionMinutes,
		AvgPressureDrop:   pressureDrop,
	}
}
