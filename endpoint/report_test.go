package endpoint_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariebrainware/physio-practice/analytics"
	"github.com/ariebrainware/physio-practice/assistant"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openAIStub serves /v1/chat/completions with a fixed status and reply.
func openAIStub(t *testing.T, status int, content string) (*assistant.Client, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-test",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return assistant.New(assistant.Config{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL + "/v1"}), &calls
}

func (ts *testServer) saveReport(t *testing.T, token string, patientID uint, body map[string]interface{}) report.Version {
	t.Helper()
	rr := ts.do(t, http.MethodPost, fmt.Sprintf("/patient/%d/report", patientID), token, body)
	var v report.Version
	decodeData(t, rr, http.StatusCreated, &v)
	return v
}

func TestReports_Versioning(t *testing.T) {
	ts := setupTestServer(t)
	_, physio := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	p := ts.createPatient(t, nil)
	base := fmt.Sprintf("/patient/%d/report", p.ID)

	rr := ts.do(t, http.MethodGet, base, physio, nil)
	var versions []report.Version
	decodeData(t, rr, http.StatusOK, &versions)
	assert.Empty(t, versions)

	rr = ts.do(t, http.MethodGet, base+"/latest", physio, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	v1 := ts.saveReport(t, physio, p.ID, map[string]interface{}{
		"chief_complaint": "Low back pain", "vas": 7, "rom": map[string]float64{"lumbar_flexion": 40},
	})
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "Budi Physio", v1.AuthorName)
	assert.False(t, v1.AssessedAt.IsZero())

	v2 := ts.saveReport(t, physio, p.ID, map[string]interface{}{
		"chief_complaint": "Low back pain, better", "vas": 4, "mmt": map[string]float64{"glute_max": 4},
	})
	assert.Equal(t, 2, v2.Version)

	rr = ts.do(t, http.MethodGet, base+"/1", physio, nil)
	var got report.Version
	decodeData(t, rr, http.StatusOK, &got)
	assert.Equal(t, "Low back pain", got.ChiefComplaint, "earlier versions are unchanged")
	require.NotNil(t, got.VAS)
	assert.InDelta(t, 7, *got.VAS, 0.001)

	rr = ts.do(t, http.MethodGet, base+"/latest", physio, nil)
	decodeData(t, rr, http.StatusOK, &got)
	assert.Equal(t, 2, got.Version)

	rr = ts.do(t, http.MethodGet, base, ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &versions)
	assert.Len(t, versions, 2)

	for _, path := range []string{base + "/0", base + "/two"} {
		rr = ts.do(t, http.MethodGet, path, physio, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
	rr = ts.do(t, http.MethodGet, base+"/9", physio, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = ts.do(t, http.MethodGet, "/patient/404/report", physio, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateReport_RejectsOutOfRange(t *testing.T) {
	ts := setupTestServer(t)
	p := ts.createPatient(t, nil)
	bodies := []map[string]interface{}{
		{"vas": 11},
		{"vas": -1},
		{"rom": map[string]float64{"knee_flexion": 400}},
		{"rom": map[string]float64{" ": 10}},
		{"mmt": map[string]float64{"quadriceps": 6}},
	}
	for i, body := range bodies {
		t.Run(fmt.Sprintf("case %d", i), func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, fmt.Sprintf("/patient/%d/report", p.ID), ts.adminToken, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	ts.svc.Reports = nil
	rr := ts.do(t, http.MethodPost, fmt.Sprintf("/patient/%d/report", p.ID), ts.adminToken, map[string]interface{}{"vas": 3})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestProgressSummary(t *testing.T) {
	ts := setupTestServer(t)
	staff, physio := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	p := ts.createPatient(t, nil)

	first := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	ts.saveReport(t, physio, p.ID, map[string]interface{}{
		"assessed_at": first, "vas": 8, "rom": map[string]float64{"knee_flexion": 90},
	})

	path := fmt.Sprintf("/patient/%d/progress", p.ID)
	var summary analytics.Summary
	decodeData(t, ts.do(t, http.MethodGet, path, physio, nil), http.StatusOK, &summary)
	assert.Equal(t, 1, summary.VersionCount)
	require.NotNil(t, summary.Pain)
	assert.Equal(t, analytics.TrendInsufficient, summary.Pain.Trend)
	assert.Nil(t, summary.Attendance.Rate)

	ts.saveReport(t, physio, p.ID, map[string]interface{}{
		"assessed_at": first.AddDate(0, 0, 14), "vas": 3, "rom": map[string]float64{"knee_flexion": 120},
	})
	ts.completed(t, p.ID, staff.ID, "2024-01-05", "2024-01-12", "2024-01-19")
	missed := ts.book(t, ts.adminToken, p.ID, staff.ID, at("2024-01-26", 9))
	require.Equal(t, http.StatusOK, ts.setStatus(t, ts.adminToken, missed.ID, model.AppointmentNoShow).Code)
	ts.book(t, ts.adminToken, p.ID, staff.ID, at(daysFromNow(3), 9))

	decodeData(t, ts.do(t, http.MethodGet, path, physio, nil), http.StatusOK, &summary)
	assert.Equal(t, 2, summary.VersionCount)
	assert.Equal(t, 14, summary.SpanDays)
	require.NotNil(t, summary.Pain)
	assert.Equal(t, analytics.TrendImproving, summary.Pain.Trend)
	assert.InDelta(t, -5, summary.Pain.Delta, 0.001)
	require.Len(t, summary.ROM, 1)
	assert.Equal(t, "knee_flexion", summary.ROM[0].Name)
	assert.Equal(t, analytics.TrendImproving, summary.ROM[0].Trend)
	assert.Equal(t, 3, summary.Attendance.Completed)
	assert.Equal(t, 1, summary.Attendance.NoShow)
	assert.Equal(t, 1, summary.Attendance.Upcoming)
	require.NotNil(t, summary.Attendance.Rate)
	assert.InDelta(t, 75, *summary.Attendance.Rate, 0.001)
	require.Len(t, summary.Timeline, 2)
}

func TestGenerateInsight(t *testing.T) {
	ts := setupTestServer(t)
	_, physio := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	p := ts.createPatient(t, nil)
	ts.saveReport(t, physio, p.ID, map[string]interface{}{"vas": 6})
	path := fmt.Sprintf("/patient/%d/progress/insight", p.ID)

	rr := ts.do(t, http.MethodPost, path, physio, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "no api key")

	client, calls := openAIStub(t, http.StatusOK, "  Pain is moderate; keep loading gradually. ")
	ts.svc.Assistant = client
	rr = ts.do(t, http.MethodPost, path, physio, nil)
	var data struct {
		Summary analytics.Summary      `json:"summary"`
		Insight assistant.ChatResponse `json:"insight"`
	}
	decodeData(t, rr, http.StatusOK, &data)
	assert.Equal(t, "Pain is moderate; keep loading gradually.", data.Insight.Reply)
	assert.Equal(t, "gpt-test", data.Insight.Model)
	assert.False(t, data.Insight.Fallback)
	assert.Equal(t, 1, data.Summary.VersionCount)
	assert.Equal(t, 1, *calls)

	limited, _ := openAIStub(t, http.StatusTooManyRequests, "")
	ts.svc.Assistant = limited
	rr = ts.do(t, http.MethodPost, path, physio, nil)
	decodeData(t, rr, http.StatusOK, &data)
	assert.True(t, data.Insight.Fallback)
	assert.Equal(t, assistant.FallbackReply, data.Insight.Reply)

	broken, _ := openAIStub(t, http.StatusInternalServerError, "")
	ts.svc.Assistant = broken
	rr = ts.do(t, http.MethodPost, path, physio, nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
