package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_sync/server/realtime/domain"
)

func TestTypingServiceExpiresAndNotifies(t *testing.T) {
	dir := newFakeDirectory()
	room := domain.Room{Kind: domain.RoomConversation, ID: "c1"}
	dir.addRoom(room, "alice", "bob")
	reg := NewRegistry(nil, nil)
	hub := NewHub(reg, nil)
	svc := NewTypingService(40*time.Millisecond, hub, dir, nil)
	t.Cleanup(svc.Stop)

	bob := newFakeConn("bob")
	require.NoError(t, reg.Register(bob))
	ctx := context.Background()

	require.NoError(t, svc.Signal(ctx, "alice", room))
	users, err := svc.Typing(ctx, "bob", room)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	require.Eventually(t, func() bool {
		types := bob.types()
		return len(types) == 2 && types[1] == domain.EventTypingStopped
	}, time.Second, 5*time.Millisecond)
	users, err = svc.Typing(ctx, "bob", room)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTypingServiceRejectsOutsiders(t *testing.T) {
	dir := newFakeDirectory()
	room := domain.Room{Kind: domain.RoomChannel, ID: "general"}
	dir.addRoom(room, "alice")
	svc := NewTypingService(time.Minute, NewHub(NewRegistry(nil, nil), nil), dir, nil)
	t.Cleanup(svc.Stop)

	assert.ErrorIs(t, svc.Signal(context.Background(), "eve", room), domain.ErrAuthorization)
	_, err := svc.Typing(context.Background(), "eve", room)
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestTypingServiceStoppedClearsImmediately(t *testing.T) {
	dir := newFakeDirectory()
	room := domain.Room{Kind: domain.RoomChannel, ID: "general"}
	dir.addRoom(room, "alice", "bob")
	reg := NewRegistry(nil, nil)
	svc := NewTypingService(time.Minute, NewHub(reg, nil), dir, nil)
	t.Cleanup(svc.Stop)
	bob := newFakeConn("bob")
	require.NoError(t, reg.Register(bob))
	ctx := context.Background()

	require.NoError(t, svc.Signal(ctx, "alice", room))
	require.NoError(t, svc.Signal(ctx, "alice", room))
	svc.Stopped(ctx, "alice", room)
	svc.Stopped(ctx, "alice", room)

	assert.Equal(t, []domain.EventType{domain.EventTypingStarted, domain.EventTypingStarted, domain.EventTypingStopped}, bob.types())
}

func TestTypingReachesTypersOtherDevices(t *testing.T) {
	dir := newFakeDirectory()
	room := domain.Room{Kind: domain.RoomConversation, ID: "c1"}
	dir.addRoom(room, "alice", "bob")
	gw, _ := newTestGateway(t, dir)
	phone, laptop, bob := newFakeConn("alice"), newFakeConn("alice"), newFakeConn("bob")
	for _, c := range []*fakeConn{phone, laptop, bob} {
		require.NoError(t, gw.Attach(c))
	}

	gw.HandleCommand(context.Background(), phone, command(t, domain.CommandTypingStart, room))

	var typing domain.TypingPayload
	require.True(t, laptop.last(domain.EventTypingStarted, &typing))
	assert.Equal(t, "alice", typing.UserID)
	require.True(t, bob.last(domain.EventTypingStarted, &typing))
	assert.NotContains(t, phone.types(), domain.EventTypingStarted)
}

func TestTypingStopReachesEveryDeviceOfTheTyper(t *testing.T) {
	dir := newFakeDirectory()
	room := domain.Room{Kind: domain.RoomChannel, ID: "general"}
	dir.addRoom(room, "alice", "bob")
	reg := NewRegistry(nil, nil)
	svc := NewTypingService(time.Minute, NewHub(reg, nil), dir, nil)
	t.Cleanup(svc.Stop)
	phone, laptop := newFakeConn("alice"), newFakeConn("alice")
	require.NoError(t, reg.Register(phone))
	require.NoError(t, reg.Register(laptop))
	ctx := context.Background()

	require.NoError(t, svc.SignalFrom(ctx, phone.ID(), "alice", room))
	svc.Stopped(ctx, "alice", room)

	assert.Equal(t, []domain.EventType{domain.EventTypingStopped}, phone.types())
	assert.Equal(t, []domain.EventType{domain.EventTypingStarted, domain.EventTypingStopped}, laptop.types())
}
