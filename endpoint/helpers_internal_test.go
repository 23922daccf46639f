package endpoint

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestApplyPayment(t *testing.T) {
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("partial then full", func(t *testing.T) {
		inv := model.Billing{Amount: 300000, Status: model.BillingUnpaid}
		require.NoError(t, applyPayment(&inv, 100000, "cash", now))
		assert.Equal(t, model.BillingPartial, inv.Status)
		assert.Nil(t, inv.PaidAt)

		require.NoError(t, applyPayment(&inv, 200000, "", now))
		assert.Equal(t, model.BillingPaid, inv.Status)
		assert.Equal(t, "cash", inv.PaymentMethod, "an empty method keeps the previous one")
		require.NotNil(t, inv.PaidAt)
		assert.True(t, inv.PaidAt.Equal(now))
	})

	t.Run("overdue stays overdue until settled", func(t *testing.T) {
		inv := model.Billing{Amount: 100, Status: model.BillingOverdue}
		require.NoError(t, applyPayment(&inv, 40, "card", now))
		assert.Equal(t, model.BillingOverdue, inv.Status)
		require.NoError(t, applyPayment(&inv, 60, "card", now))
		assert.Equal(t, model.BillingPaid, inv.Status)
	})

	t.Run("cent tolerance", func(t *testing.T) {
		inv := model.Billing{Amount: 100.10, Status: model.BillingUnpaid}
		require.NoError(t, applyPayment(&inv, 100.104, "", now))
		assert.Equal(t, model.BillingPaid, inv.Status)
		assert.Equal(t, 100.10, inv.AmountPaid)

		inv = model.Billing{Amount: 100.10, Status: model.BillingUnpaid}
		assert.ErrorIs(t, applyPayment(&inv, 100.11, "", now), errOverpayment)
		assert.Zero(t, inv.AmountPaid)
	})

	for _, st := range []model.BillingStatus{model.BillingPaid, model.BillingVoid} {
		inv := model.Billing{Amount: 10, Status: st}
		assert.ErrorIs(t, applyPayment(&inv, 1, "", now), errNotPayable, st)
	}
}

func TestLeaveDays(t *testing.T) {
	cases := []struct {
		start, end string
		want       int
		ok         bool
	}{
		{"2024-03-01", "2024-03-01", 1, true},
		{"2024-02-28", "2024-03-01", 3, true},
		{"2024-03-30", "2024-04-02", 4, true},
		{"2024-01-01", "2024-03-30", 90, true},
		{"2024-01-01", "2024-03-31", 0, false},
		{"2024-03-02", "2024-03-01", 0, false},
		{"2024-3-1", "2024-03-01", 0, false},
		{"2024-03-01", "", 0, false},
	}
	for _, tc := range cases {
		got, err := leaveDays(tc.start, tc.end)
		if !tc.ok {
			assert.Error(t, err, "%s..%s", tc.start, tc.end)
			continue
		}
		require.NoError(t, err, "%s..%s", tc.start, tc.end)
		assert.Equal(t, tc.want, got, "%s..%s", tc.start, tc.end)
	}
}

func TestNewInvoiceNumber(t *testing.T) {
	now := time.Date(2024, 5, 6, 23, 30, 0, 0, time.FixedZone("WIB", 7*3600))
	a, b := newInvoiceNumber(now), newInvoiceNumber(now)
	assert.True(t, strings.HasPrefix(a, "INV-20240506-"), a)
	assert.Len(t, a, len("INV-20240506-")+8)
	assert.NotEqual(t, a, b)
}

func TestGetInitials(t *testing.T) {
	cases := map[string]string{
		"jane doe":  "J",
		"  Budi":    "B",
		"":          "X",
		"1st":       "X",
		"=SUM(A1)":  "X",
		"Élodie":    "X",
		"zainuddin": "Z",
	}
	for in, want := range cases {
		assert.Equal(t, want, getInitials(in), in)
	}
}

func TestBillingAnchor(t *testing.T) {
	p := model.Patient{BillingAnchorDate: "2024-03-15"}
	got, err := billingAnchor(p)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", got.Format("2006-01-02"))

	p = model.Patient{}
	p.CreatedAt = time.Date(2024, 4, 2, 22, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	got, err = billingAnchor(p)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-02", got.Format("2006-01-02"), "registration day in UTC")

	_, err = billingAnchor(model.Patient{BillingAnchorDate: "03/15/2024"})
	assert.Error(t, err)
}

func TestStorePayment_StaleReadLoses(t *testing.T) {
	dsn := fmt.Sprintf("file:store_payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Billing{}))

	stored := model.Billing{InvoiceNumber: "INV-20240201-0000000A", PatientID: 1, Amount: 100, AmountPaid: 10, Status: model.BillingPartial}
	require.NoError(t, db.Create(&stored).Error)

	// two clerks load the same invoice before either saves
	var first, second model.Billing
	require.NoError(t, db.First(&first, stored.ID).Error)
	require.NoError(t, db.First(&second, stored.ID).Error)
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	readFirst, readSecond := first, second
	require.NoError(t, applyPayment(&first, 30, "cash", now))
	require.NoError(t, applyPayment(&second, 30, "cash", now))

	ok, err := storePayment(db, readFirst, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = storePayment(db, readSecond, second)
	require.NoError(t, err)
	assert.False(t, ok, "the second write was based on a stale amount")

	var reloaded model.Billing
	require.NoError(t, db.First(&reloaded, stored.ID).Error)
	assert.InDelta(t, 40, reloaded.AmountPaid, 0.001)
	assert.Equal(t, model.BillingPartial, reloaded.Status)
}
