package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func domainID(s string) domain.PeerID { return domain.PeerID(s) }

func testAPI(t *testing.T) *webrtc.API {
	t.Helper()
	api, err := newAPI(func(se *webrtc.SettingEngine) {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	})
	require.NoError(t, err)
	return api
}

func newTestTransport(t *testing.T, b *fakeBroker, callTimeout time.Duration) *Transport {
	t.Helper()
	tr := NewTransport(testAPI(t), Config{
		URL:             b.url(),
		CallTimeout:     callTimeout,
		OpenTimeout:     time.Second,
		HeartbeatPeriod: 20 * time.Millisecond,
		ICEServers:      []string{},
	}, nil)
	t.Cleanup(tr.Destroy)
	return tr
}

func TestInitialize_OpenHeartbeatAndIdempotent(t *testing.T) {
	b := newFakeBroker(t)
	tr := newTestTransport(t, b, time.Second)

	require.NoError(t, tr.Initialize(context.Background(), "u1"))
	require.NoError(t, tr.Initialize(context.Background(), "u1"))
	assert.Error(t, tr.Initialize(context.Background(), "u2"))

	assert.Eventually(t, func() bool { return b.heartbeats.Load() > 0 }, time.Second, 10*time.Millisecond)
}

func TestInitialize_AddressTaken(t *testing.T) {
	b := newFakeBroker(t)
	first := newTestTransport(t, b, time.Second)
	second := newTestTransport(t, b, time.Second)

	require.NoError(t, first.Initialize(context.Background(), "u1"))
	assert.ErrorIs(t, second.Initialize(context.Background(), "u1"), ErrAddressTaken)
}

func TestInitialize_InvalidKey(t *testing.T) {
	b := newFakeBroker(t)
	tr := NewTransport(testAPI(t), Config{URL: b.url(), Key: "wrong", ICEServers: []string{}}, nil)
	defer tr.Destroy()

	assert.ErrorIs(t, tr.Initialize(context.Background(), "u1"), ErrInvalidKey)
}

func TestDestroy_ReleasesAddress(t *testing.T) {
	b := newFakeBroker(t)
	tr := newTestTransport(t, b, time.Second)
	require.NoError(t, tr.Initialize(context.Background(), "u1"))

	tr.Destroy()
	tr.Destroy()

	_, err := tr.Call(context.Background(), "u2", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	require.Eventually(t, func() bool {
		return tr.Initialize(context.Background(), "u1") == nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestCall_NotInitialized(t *testing.T) {
	b := newFakeBroker(t)
	tr := newTestTransport(t, b, time.Second)

	_, err := tr.Call(context.Background(), "u2", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCall_TimeoutRemovesTableEntry(t *testing.T) {
	b := newFakeBroker(t)
	b.swallow.Store(true)
	tr := newTestTransport(t, b, 200*time.Millisecond)
	require.NoError(t, tr.Initialize(context.Background(), "u1"))

	_, err := tr.Call(context.Background(), "u2", nil)
	require.ErrorIs(t, err, ErrCallTimeout)

	tr.mu.Lock()
	assert.Empty(t, tr.calls)
	tr.mu.Unlock()

	offers := b.framesOf(msgOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.PeerID("u2"), offers[0].Dst)
	require.NotNil(t, offers[0].Payload)
	assert.Equal(t, connectionTypeMedia, offers[0].Payload.Type)
	assert.True(t, strings.HasPrefix(offers[0].Payload.ConnectionID, "mc_"))
	assert.Equal(t, webrtc.SDPTypeOffer, offers[0].Payload.SDP.Type)
}

func TestCall_SecondCallSharesConnection(t *testing.T) {
	b := newFakeBroker(t)
	b.swallow.Store(true)
	tr := newTestTransport(t, b, 300*time.Millisecond)
	require.NoError(t, tr.Initialize(context.Background(), "u1"))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := tr.Call(context.Background(), "u2", nil)
			errs <- err
		}()
	}
	assert.ErrorIs(t, <-errs, ErrCallTimeout)
	assert.Error(t, <-errs)
	assert.Len(t, b.framesOf(msgOffer), 1)
}

func TestCloseCall_PendingAndUnknown(t *testing.T) {
	b := newFakeBroker(t)
	b.swallow.Store(true)
	tr := newTestTransport(t, b, 5*time.Second)
	require.NoError(t, tr.Initialize(context.Background(), "u1"))

	assert.NotPanics(t, func() { tr.CloseCall("nobody") })

	done := make(chan error, 1)
	go func() {
		_, err := tr.Call(context.Background(), "u2", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(b.framesOf(msgOffer)) == 1 }, time.Second, 10*time.Millisecond)

	tr.CloseCall("u2")
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCallClosed)
	case <-time.After(time.Second):
		t.Fatal("call not released by CloseCall")
	}
	tr.mu.Lock()
	assert.Empty(t, tr.calls)
	tr.mu.Unlock()
}

func TestCall_UnreachablePeerExpires(t *testing.T) {
	b := newFakeBroker(t)
	tr := newTestTransport(t, b, 5*time.Second)
	require.NoError(t, tr.Initialize(context.Background(), "u1"))

	start := time.Now()
	_, err := tr.Call(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrCallClosed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// sendingStream returns a local stream whose tracks emit samples until stopped.
func sendingStream(t *testing.T) *media.LocalStream {
	t.Helper()
	s, err := media.NullSource{}.GetUserMedia(context.Background(), media.DefaultConstraints)
	require.NoError(t, err)
	for _, tr := range s.Tracks() {
		go func(tr *media.LocalTrack) {
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-tr.Done():
					return
				case <-ticker.C:
					_ = tr.WriteSample(pmedia.Sample{Data: []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, Duration: 20 * time.Millisecond})
				}
			}
		}(tr)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestCall_EndToEnd(t *testing.T) {
	b := newFakeBroker(t)
	alice := newTestTransport(t, b, 10*time.Second)
	bob := newTestTransport(t, b, 10*time.Second)
	require.NoError(t, alice.Initialize(context.Background(), "alice"))
	require.NoError(t, bob.Initialize(context.Background(), "bob"))

	bob.SetLocalStream(sendingStream(t))
	incoming := make(chan domain.PeerID, 1)
	bob.OnCall(func(peer domain.PeerID, _ *media.RemoteStream) { incoming <- peer })

	remote, err := alice.Call(context.Background(), "bob", sendingStream(t))
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Eventually(t, func() bool { return remote.Packets() > 0 }, 5*time.Second, 20*time.Millisecond)

	select {
	case peer := <-incoming:
		assert.Equal(t, domain.PeerID("alice"), peer)
	case <-time.After(10 * time.Second):
		t.Fatal("bob never saw the call")
	}

	again, err := alice.Call(context.Background(), "bob", nil)
	require.NoError(t, err)
	assert.Same(t, remote, again)
	assert.Len(t, b.framesOf(msgOffer), 1)
}

func TestCall_SimultaneousDialBothResolve(t *testing.T) {
	b := newFakeBroker(t)
	alice := newTestTransport(t, b, 10*time.Second)
	bob := newTestTransport(t, b, 10*time.Second)
	require.NoError(t, alice.Initialize(context.Background(), "alice"))
	require.NoError(t, bob.Initialize(context.Background(), "bob"))
	aliceLocal, bobLocal := sendingStream(t), sendingStream(t)
	alice.SetLocalStream(aliceLocal)
	bob.SetLocalStream(bobLocal)

	type result struct {
		stream *media.RemoteStream
		err    error
	}
	fromAlice, fromBob := make(chan result, 1), make(chan result, 1)
	go func() {
		s, err := alice.Call(context.Background(), "bob", aliceLocal)
		fromAlice <- result{s, err}
	}()
	go func() {
		s, err := bob.Call(context.Background(), "alice", bobLocal)
		fromBob <- result{s, err}
	}()

	for _, ch := range []chan result{fromAlice, fromBob} {
		select {
		case r := <-ch:
			require.NoError(t, r.err)
			assert.NotNil(t, r.stream)
		case <-time.After(12 * time.Second):
			t.Fatal("call did not resolve")
		}
	}
	alice.mu.Lock()
	assert.Len(t, alice.calls, 1)
	alice.mu.Unlock()
}
