package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func receive(t *testing.T, ch <-chan model.Notification) model.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return model.Notification{}
}

func assertNothing(t *testing.T, ch <-chan model.Notification) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func newRedisHub(t *testing.T) (*Hub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(rdb)
	require.NoError(t, h.Start(ctx))
	return h, mr
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "notifications:42", Channel(42))
}

func TestHub_LocalDelivery(t *testing.T) {
	h := NewHub(nil)
	require.NoError(t, h.Start(context.Background()))

	mine, cancelMine := h.Subscribe(context.Background(), 1)
	defer cancelMine()
	other, cancelOther := h.Subscribe(context.Background(), 2)
	defer cancelOther()

	require.NoError(t, h.Publish(context.Background(), model.Notification{UserID: 1, Title: "Leave approved"}))

	got := receive(t, mine)
	assert.Equal(t, "Leave approved", got.Title)
	assertNothing(t, other)
}

func TestHub_CancelReleasesSubscriber(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(context.Background(), 7)
	assert.Equal(t, 1, h.Subscribers(7))

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers(7))
	_, ok := <-ch
	assert.False(t, ok)

	// publishing to a user without listeners is a no-op
	assert.NoError(t, h.Publish(context.Background(), model.Notification{UserID: 7}))
}

func TestHub_ContextCancelReleasesSubscriber(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.Subscribe(ctx, 3)
	cancel()
	assert.Eventually(t, func() bool { return h.Subscribers(3) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RelaysThroughRedis(t *testing.T) {
	h, mr := newRedisHub(t)
	assert.Equal(t, 1, mr.PubSubNumPat())

	ch, cancel := h.Subscribe(context.Background(), 5)
	defer cancel()

	require.NoError(t, h.Publish(context.Background(), model.Notification{UserID: 5, Title: "Appointment booked", Category: model.CategoryAppointment}))
	got := receive(t, ch)
	assert.Equal(t, uint(5), got.UserID)
	assert.Equal(t, model.CategoryAppointment, got.Category)
}

func TestHub_RelaysMessagesFromOtherInstances(t *testing.T) {
	h, mr := newRedisHub(t)
	ch, cancel := h.Subscribe(context.Background(), 9)
	defer cancel()

	mr.Publish("notifications:9", `{"title":"Invoice overdue","category":"billing"}`)
	got := receive(t, ch)
	assert.Equal(t, "Invoice overdue", got.Title)
	assert.Equal(t, uint(9), got.UserID, "user id comes from the channel name")

	mr.Publish("notifications:9", `not json`)
	assertNothing(t, ch)
}

func TestHub_FallsBackWhenRedisPublishFails(t *testing.T) {
	h, mr := newRedisHub(t)
	ch, cancel := h.Subscribe(context.Background(), 4)
	defer cancel()

	mr.Close()
	require.NoError(t, h.Publish(context.Background(), model.Notification{UserID: 4, Title: "still here"}))
	assert.Equal(t, "still here", receive(t, ch).Title)
}

func TestHub_DeliverStoresAndPublishes(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:notify_deliver?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Notification{}))

	h := NewHub(nil)
	ch, cancel := h.Subscribe(context.Background(), 11)
	defer cancel()

	n := &model.Notification{UserID: 11, Title: "New appointment", Category: model.CategoryAppointment}
	require.NoError(t, h.Deliver(context.Background(), db, n))
	assert.NotZero(t, n.ID)

	got := receive(t, ch)
	assert.Equal(t, n.ID, got.ID)

	var nilHub *Hub
	require.NoError(t, nilHub.Deliver(context.Background(), db, &model.Notification{UserID: 11, Title: "stored only"}))
	var count int64
	db.Model(&model.Notification{}).Where("user_id = ?", 11).Count(&count)
	assert.Equal(t, int64(2), count)
}
