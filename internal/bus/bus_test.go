package bus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/types"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribeAndPublishDelivers(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(types.NewUserID())
	defer sub.Close()

	b.Publish(Event{Kind: UserOnline})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, UserOnline, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsForLaggedSubscriber(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(types.NewUserID())
	defer sub.Close()

	for i := 0; i < DefaultBufferSize+5; i++ {
		b.Publish(Event{Kind: ServerNotice})
	}

	assert.Greater(t, sub.Lagged(), uint64(0))
	assert.Equal(t, uint64(0), sub.Lagged(), "Lagged resets on read")
}

func TestUnsubscribeRemovesAndClosesChannel(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(types.NewUserID())
	require.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Closing twice must not panic.
	sub.Close()
}

func TestSubscriberCount(t *testing.T) {
	b := New(nil)
	assert.Equal(t, 0, b.SubscriberCount())

	s1 := b.Subscribe(types.NewUserID())
	s2 := b.Subscribe(types.NewUserID())
	assert.Equal(t, 2, b.SubscriberCount())

	s1.Close()
	assert.Equal(t, 1, b.SubscriberCount())
	s2.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestShouldReceiveRoomMessage(t *testing.T) {
	user := types.NewUserID()
	room := types.NewRoomID()
	otherRoom := types.NewRoomID()
	rooms := NewRoomSet(room)

	msg := &types.Message{Target: types.RoomTarget(room), Author: types.NewUserID()}
	assert.True(t, ShouldReceive(Event{Kind: MessageReceived, Message: msg}, user, rooms))

	msgElsewhere := &types.Message{Target: types.RoomTarget(otherRoom), Author: types.NewUserID()}
	assert.False(t, ShouldReceive(Event{Kind: MessageReceived, Message: msgElsewhere}, user, rooms))
}

func TestShouldReceiveDirectMessage(t *testing.T) {
	sender := types.NewUserID()
	recipient := types.NewUserID()
	bystander := types.NewUserID()

	msg := &types.Message{Target: types.DirectTarget(recipient), Author: sender}
	ev := Event{Kind: MessageReceived, Message: msg}

	assert.True(t, ShouldReceive(ev, sender, nil))
	assert.True(t, ShouldReceive(ev, recipient, nil))
	assert.False(t, ShouldReceive(ev, bystander, nil))
}

func TestShouldReceiveRoomDeletedOnlyToFormerMembers(t *testing.T) {
	member := types.NewUserID()
	stranger := types.NewUserID()
	ev := Event{Kind: RoomDeleted, Members: []types.UserID{member}}

	assert.True(t, ShouldReceive(ev, member, nil))
	assert.False(t, ShouldReceive(ev, stranger, nil))
}

func TestShouldReceivePresenceIsBroadcast(t *testing.T) {
	assert.True(t, ShouldReceive(Event{Kind: UserOnline}, types.NewUserID(), nil))
	assert.True(t, ShouldReceive(Event{Kind: UserOffline}, types.NewUserID(), nil))
}

func TestShouldReceiveInvitationOnlyToInvitee(t *testing.T) {
	invitee := types.NewUserID()
	other := types.NewUserID()
	ev := Event{Kind: InvitationReceived, Invitation: &types.Invitation{Invitee: invitee}}

	assert.True(t, ShouldReceive(ev, invitee, nil))
	assert.False(t, ShouldReceive(ev, other, nil))
}

func TestShouldReceiveServerNoticeTargeting(t *testing.T) {
	targeted := types.NewUserID()
	other := types.NewUserID()

	broadcast := Event{Kind: ServerNotice}
	assert.True(t, ShouldReceive(broadcast, targeted, nil))
	assert.True(t, ShouldReceive(broadcast, other, nil))

	scoped := Event{Kind: ServerNotice, NoticeTargets: []types.UserID{targeted}}
	assert.True(t, ShouldReceive(scoped, targeted, nil))
	assert.False(t, ShouldReceive(scoped, other, nil))
}

func TestShouldReceiveSessionExpiringOnlyToOwner(t *testing.T) {
	owner := types.NewUserID()
	other := types.NewUserID()
	ev := Event{Kind: SessionExpiring, ExpiringUserID: owner}

	assert.True(t, ShouldReceive(ev, owner, nil))
	assert.False(t, ShouldReceive(ev, other, nil))
}

func TestMetricsTrackSubscribersAndLag(t *testing.T) {
	reg := metrics.New(prometheus.NewRegistry())
	b := New(nil)
	b.SetMetrics(reg)

	s1 := b.Subscribe(types.NewUserID())
	assert.Equal(t, float64(1), gaugeValue(t, reg.BusSubscribers))
	s2 := b.Subscribe(types.NewUserID())
	assert.Equal(t, float64(2), gaugeValue(t, reg.BusSubscribers))

	s1.Close()
	assert.Equal(t, float64(1), gaugeValue(t, reg.BusSubscribers))
	s2.Close()
	assert.Equal(t, float64(0), gaugeValue(t, reg.BusSubscribers))

	sub := b.Subscribe(types.NewUserID())
	defer sub.Close()
	for i := 0; i < DefaultBufferSize+5; i++ {
		b.Publish(Event{Kind: ServerNotice})
	}
	var m dto.Metric
	require.NoError(t, reg.BusLagged.Write(&m))
	assert.Greater(t, m.GetCounter().GetValue(), float64(0))
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Kind(999).String())
	assert.Equal(t, "MessageReceived", MessageReceived.String())
}
