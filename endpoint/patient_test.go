package endpoint_test

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePatient(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("generates code and normalizes phones", func(t *testing.T) {
		p := ts.createPatient(t, map[string]interface{}{
			"full_name":      "  Jane   Doe ",
			"phone_number":   []string{"0812-3456-7890", "081234567890", "+62 812 9999 8888"},
			"health_history": []string{"Diabetes", " ", "Hypertension"},
		})
		assert.Equal(t, "J1", p.PatientCode)
		assert.Equal(t, "Jane Doe", p.FullName)
		assert.Equal(t, "+6281234567890,+6281299998888", p.PhoneNumber)
		assert.Equal(t, "Diabetes,Hypertension", p.HealthHistory)
		assert.Equal(t, model.PatientActive, p.Status)
		assert.Equal(t, model.FrequencyMonthly, p.BillingFrequency)
		assert.NotEmpty(t, p.BillingAnchorDate)
	})

	t.Run("second patient with same initial", func(t *testing.T) {
		p := ts.createPatient(t, map[string]interface{}{
			"full_name":    "John Smith",
			"phone_number": []string{"081300000001"},
		})
		assert.Equal(t, "J2", p.PatientCode)
	})

	t.Run("non latin initial", func(t *testing.T) {
		p := ts.createPatient(t, map[string]interface{}{
			"full_name":    "1st Patient",
			"phone_number": []string{"081300000002"},
		})
		assert.Equal(t, "X1", p.PatientCode)
	})

	t.Run("duplicate name and phone", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/patient", ts.adminToken, map[string]interface{}{
			"full_name": "Jane Doe", "phone_number": []string{"+6281234567890"},
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("requested code already taken", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/patient", ts.adminToken, map[string]interface{}{
			"full_name": "Other", "phone_number": []string{"081399999999"}, "patient_code": "j1",
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	invalid := []map[string]interface{}{
		{"full_name": "", "phone_number": []string{"081234567890"}},
		{"full_name": "No Phone", "phone_number": []string{" "}},
		{"full_name": "Bad Phone", "phone_number": []string{"12"}},
		{"full_name": "Bad Fee", "phone_number": []string{"081311111111"}, "session_fee": -1},
		{"full_name": "Bad Freq", "phone_number": []string{"081311111112"}, "billing_frequency": "yearly"},
		{"full_name": "Bad Cycle", "phone_number": []string{"081311111113"}, "billing_frequency": "sessions"},
		{"full_name": "Bad Anchor", "phone_number": []string{"081311111114"}, "billing_anchor_date": "01-03-2024"},
		{"full_name": "Bad Staff", "phone_number": []string{"081311111115"}, "assigned_staff_id": 999},
	}
	for i, body := range invalid {
		t.Run(fmt.Sprintf("invalid %d", i), func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/patient", ts.adminToken, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestListPatients(t *testing.T) {
	ts := setupTestServer(t)
	ts.createPatient(t, map[string]interface{}{"full_name": "Alice Wong", "phone_number": []string{"081200000001"}})
	bob := ts.createPatient(t, map[string]interface{}{"full_name": "Bob Tan", "phone_number": []string{"081200000002"}})
	ts.createPatient(t, map[string]interface{}{"full_name": "Cici Lim", "phone_number": []string{"081200000003"}})

	rr := ts.do(t, http.MethodPatch, fmt.Sprintf("/patient/%d", bob.ID), ts.adminToken, map[string]interface{}{"status": "discharged"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var data struct {
		Total        int64           `json:"total"`
		TotalFetched int             `json:"total_fetched"`
		Patients     []model.Patient `json:"patients"`
	}

	rr = ts.do(t, http.MethodGet, "/patient?sort=full_name&sort_dir=asc", ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &data)
	assert.EqualValues(t, 3, data.Total)
	require.Len(t, data.Patients, 3)
	assert.Equal(t, "Alice Wong", data.Patients[0].FullName)

	rr = ts.do(t, http.MethodGet, "/patient?limit=1&offset=1&sort=full_name", ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &data)
	assert.EqualValues(t, 3, data.Total)
	assert.Equal(t, 1, data.TotalFetched)
	assert.Equal(t, "Bob Tan", data.Patients[0].FullName)

	rr = ts.do(t, http.MethodGet, "/patient?keyword=cici", ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &data)
	assert.EqualValues(t, 1, data.Total)

	rr = ts.do(t, http.MethodGet, "/patient?status=discharged", ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &data)
	require.EqualValues(t, 1, data.Total)
	assert.Equal(t, bob.ID, data.Patients[0].ID)

	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/patient/%d", bob.ID), ts.adminToken, nil)
	var got model.Patient
	decodeData(t, rr, http.StatusOK, &got)
	assert.Equal(t, model.PatientDischarged, got.Status)

	rr = ts.do(t, http.MethodGet, "/patient/4242", ts.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdatePatient(t *testing.T) {
	ts := setupTestServer(t)
	p := ts.createPatient(t, nil)
	other := ts.createPatient(t, map[string]interface{}{"full_name": "Mark Lee", "phone_number": []string{"081277777777"}})

	rr := ts.do(t, http.MethodPatch, fmt.Sprintf("/patient/%d", p.ID), ts.adminToken, map[string]interface{}{
		"address":            "Jl. Sudirman 1",
		"session_fee":        0,
		"billing_frequency":  "sessions",
		"sessions_per_cycle": 4,
	})
	var updated model.Patient
	decodeData(t, rr, http.StatusOK, &updated)
	assert.Equal(t, "Jl. Sudirman 1", updated.Address)
	assert.Equal(t, "Jane Doe", updated.FullName, "omitted fields are kept")
	assert.Zero(t, updated.SessionFee, "explicit zero fee is applied")
	assert.Equal(t, model.FrequencySessions, updated.BillingFrequency)
	assert.Equal(t, 4, updated.SessionsPerCycle)

	t.Run("clearing cycle size for session billing", func(t *testing.T) {
		rr := ts.do(t, http.MethodPatch, fmt.Sprintf("/patient/%d", p.ID), ts.adminToken, map[string]interface{}{"sessions_per_cycle": 0})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid status", func(t *testing.T) {
		rr := ts.do(t, http.MethodPatch, fmt.Sprintf("/patient/%d", p.ID), ts.adminToken, map[string]interface{}{"status": "gone"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("collides with another patient", func(t *testing.T) {
		rr := ts.do(t, http.MethodPatch, fmt.Sprintf("/patient/%d", other.ID), ts.adminToken, map[string]interface{}{
			"full_name": "Jane Doe", "phone_number": []string{"081234567890"},
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("missing patient", func(t *testing.T) {
		rr := ts.do(t, http.MethodPatch, "/patient/999", ts.adminToken, map[string]interface{}{"address": "x"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestDeletePatient(t *testing.T) {
	ts := setupTestServer(t)
	_, receptionist := ts.createStaff(t, "Dewi Front", "dewi@example.com", model.PositionReceptionist)
	p := ts.createPatient(t, nil)

	rr := ts.do(t, http.MethodDelete, fmt.Sprintf("/patient/%d", p.ID), receptionist, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/patient/%d", p.ID), ts.adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/patient/%d", p.ID), ts.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// soft deleted codes stay reserved
	next := ts.createPatient(t, map[string]interface{}{"full_name": "Joko", "phone_number": []string{"081255555555"}})
	assert.Equal(t, "J2", next.PatientCode)
}

func TestExportPatients_NeutralizesFormulas(t *testing.T) {
	ts := setupTestServer(t)
	ts.createPatient(t, map[string]interface{}{
		"full_name":    "=HYPERLINK(\"http://evil\")",
		"phone_number": []string{"081266666666"},
		"address":      "@SUM(A1)",
	})

	rr := ts.do(t, http.MethodGet, "/patient/export", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "patients-")

	records, err := csv.NewReader(strings.NewReader(rr.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "patient_code", records[0][0])

	row := records[1]
	assert.Equal(t, "X1", row[0])
	assert.Equal(t, "'=HYPERLINK(\"http://evil\")", row[1])
	assert.Equal(t, "'+6281266666666", row[5])
	assert.Equal(t, "'@SUM(A1)", row[7])
	assert.Equal(t, "150000.00", row[11])
}
