package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telewake/relay-service/internal/adapter/pubsub"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/service"
	"github.com/telewake/relay-service/internal/storage"
)

const readTimeout = 5 * time.Second

// shortAuthWait shrinks the handshake window so the fallback paths can
// be exercised without waiting out the production timeout.
func shortAuthWait(h *WSHandler) {
	h.authWait = 200 * time.Millisecond
}

type wsFixture struct {
	srv     *httptest.Server
	store   *storage.SQLite
	reg     *registry.Registry
	relay   *service.RelayService
	handler *WSHandler
	alice   model.User
	bob     model.User
	dev     model.Device
}

func newWSFixture(t *testing.T, opts ...func(*WSHandler)) *wsFixture {
	t.Helper()
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	alice, err := st.CreateUser(ctx, "alice", "pw", "basic", 5)
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "pw", "basic", 5)
	require.NoError(t, err)

	dev := model.Device{
		DeviceID:    "dev-1",
		UserID:      alice.ID,
		DeviceToken: storage.GenerateToken(16),
		Cloud:       true,
		Added:       time.Now(),
	}
	require.NoError(t, st.InsertDevice(ctx, dev))

	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	bus := pubsub.NewEnvelopeNotifier(ch, ch, slog.Default())
	require.NoError(t, bus.Start())
	t.Cleanup(func() {
		bus.Stop()
		_ = ch.Close()
	})

	reg := registry.New()
	relay := service.NewRelayService(reg, st, bus, slog.Default())
	auth := service.NewAuthService(st)
	devices := service.NewDeviceService(st, reg, slog.Default())

	handler := NewWSHandler(slog.Default(), relay, auth, devices)
	for _, opt := range opts {
		opt(handler)
	}
	router := chi.NewRouter()
	handler.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &wsFixture{
		srv:     srv,
		store:   st,
		reg:     reg,
		relay:   relay,
		handler: handler,
		alice:   alice,
		bob:     bob,
		dev:     dev,
	}
}

func (f *wsFixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
}

// dial opens a stream, optionally with a bearer token in the upgrade
// headers.
func (f *wsFixture) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(path), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialClient performs the explicit handshake and consumes the welcome.
func (f *wsFixture) dialClient(t *testing.T, clientID, token string) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, "/ws/client/"+clientID, "")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

	welcome := readFrame(t, conn)
	require.Equal(t, "welcome", welcome["type"])
	require.Equal(t, clientID, welcome["client_id"])
	return conn
}

// dialDevice authenticates via headers and consumes the welcome.
func (f *wsFixture) dialDevice(t *testing.T, deviceID, token string) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, "/ws/"+deviceID, token)

	welcome := readFrame(t, conn)
	require.Equal(t, "welcome", welcome["type"])
	require.Equal(t, deviceID, welcome["device_id"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// expectClose asserts the server closed the stream with the given code.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, code), "want close %d, got %v", code, err)
}

func commandPacket(counter int64) map[string]any {
	return map[string]any{
		"device_id":       "dev-1",
		"payload":         "encrypted-command",
		"signature":       "command-sig",
		"version":         "1.0",
		"request_counter": counter,
	}
}

func TestDeviceStreamWelcomeAndPresence(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dialDevice(t, "dev-1", f.alice.APIToken)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.reg.IsPresent("dev-1")
	}, 2*time.Second, 10*time.Millisecond)

	dev, err := f.store.DeviceByID(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.False(t, dev.LastSeen.IsZero())
}

func TestDeviceStreamRequiresToken(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t, "/ws/dev-1", "")

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["status"])
	assert.Equal(t, "AUTH_REQUIRED", frame["error"])

	expectClose(t, conn, websocket.ClosePolicyViolation)
	assert.False(t, f.reg.IsPresent("dev-1"))
}

func TestDeviceStreamRejectsForeignDevice(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t, "/ws/dev-1", f.bob.APIToken)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["status"])
	assert.Equal(t, "DEVICE_NOT_FOUND", frame["error"])

	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestDeviceStreamFlushesBacklogAfterWelcome(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	// Two commands pushed while the device was offline.
	for _, payload := range []string{"first", "second"} {
		delivered, err := f.relay.Deliver(ctx, f.dev, model.Packet{
			DeviceID:  "dev-1",
			Payload:   payload,
			Signature: "sig",
			Version:   model.ProtocolVersion,
		}, "")
		require.NoError(t, err)
		require.False(t, delivered)
	}

	conn := f.dialDevice(t, "dev-1", f.alice.APIToken)
	defer conn.Close()

	// The welcome came first (consumed by dialDevice); the backlog
	// follows in FIFO order.
	assert.Equal(t, "first", readFrame(t, conn)["payload"])
	assert.Equal(t, "second", readFrame(t, conn)["payload"])

	// Confirmed flushes retire the durable rows.
	require.Eventually(t, func() bool {
		n, err := f.store.CountEnvelopes(ctx, model.DirectionToDevice)
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientStreamExplicitHandshake(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dialClient(t, "cli-1", f.alice.APIToken)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.reg.IsPresent(registry.ClientConnPrefix + "cli-1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientStreamRejectsBadToken(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t, "/ws/client/cli-1", "")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "bogus"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "INVALID_API_TOKEN", frame["error"])
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestClientStreamRejectsDataFrameBeforeAuth(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t, "/ws/client/cli-1", "")
	require.NoError(t, conn.WriteJSON(commandPacket(1)))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["status"])
	assert.Equal(t, "AUTH_REQUIRED", frame["error"])
	assert.Contains(t, frame["message"], `{"type": "auth", "token":`)

	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestClientStreamHeaderFallbackAfterSilence(t *testing.T) {
	f := newWSFixture(t, shortAuthWait)

	// Say nothing; the handler falls back to the upgrade headers once
	// the handshake window runs out.
	conn := f.dial(t, "/ws/client/cli-1", f.alice.APIToken)
	defer conn.Close()

	welcome := readFrame(t, conn)
	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, "cli-1", welcome["client_id"])
}

func TestClientStreamSilenceWithoutHeaderCloses(t *testing.T) {
	f := newWSFixture(t, shortAuthWait)

	conn := f.dial(t, "/ws/client/cli-1", "")

	frame := readFrame(t, conn)
	assert.Equal(t, "AUTH_REQUIRED", frame["error"])
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

// The full round trip: a command travels client -> device untouched,
// the response travels back to the same client, and nothing is left in
// the durable queue.
func TestCommandResponseRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	device := f.dialDevice(t, "dev-1", f.alice.APIToken)
	defer device.Close()
	client := f.dialClient(t, "cli-1", f.alice.APIToken)
	defer client.Close()

	require.Eventually(t, func() bool {
		return f.reg.IsPresent("dev-1") && f.reg.IsPresent(registry.ClientConnPrefix+"cli-1")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.WriteJSON(commandPacket(7)))

	// The device sees the command verbatim, counter included.
	cmd := readFrame(t, device)
	assert.Equal(t, "dev-1", cmd["device_id"])
	assert.Equal(t, "encrypted-command", cmd["payload"])
	assert.Equal(t, "command-sig", cmd["signature"])
	assert.Equal(t, "1.0", cmd["version"])
	assert.EqualValues(t, 7, cmd["request_counter"])

	// The client gets the delivery acknowledgement.
	ack := readFrame(t, client)
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, true, ack["delivered"])
	assert.Equal(t, false, ack["queued"])
	assert.Equal(t, "Delivered to device", ack["message"])

	// The device answers; the response reaches the waiting client with
	// the counter intact.
	require.NoError(t, device.WriteJSON(map[string]any{
		"device_id":       "dev-1",
		"payload":         "encrypted-response",
		"signature":       "response-sig",
		"version":         "1.0",
		"request_counter": 7,
	}))

	resp := readFrame(t, client)
	assert.Equal(t, "encrypted-response", resp["payload"])
	assert.Equal(t, "response-sig", resp["signature"])
	assert.EqualValues(t, 7, resp["request_counter"])

	// Confirmed deliveries retire their durable rows on both legs.
	require.Eventually(t, func() bool {
		toDev, err1 := f.store.CountEnvelopes(ctx, model.DirectionToDevice)
		toCli, err2 := f.store.CountEnvelopes(ctx, model.DirectionToClient)
		return err1 == nil && err2 == nil && toDev == 0 && toCli == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientCommandQueuedWhenDeviceOffline(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	client := f.dialClient(t, "cli-1", f.alice.APIToken)
	defer client.Close()

	require.NoError(t, client.WriteJSON(commandPacket(3)))

	ack := readFrame(t, client)
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, false, ack["delivered"])
	assert.Equal(t, true, ack["queued"])
	assert.Equal(t, "Device offline, queued", ack["message"])

	n, err := f.store.CountEnvelopes(ctx, model.DirectionToDevice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUnsupportedVersionKeepsStreamOpen(t *testing.T) {
	f := newWSFixture(t)

	client := f.dialClient(t, "cli-1", f.alice.APIToken)
	defer client.Close()

	bad := commandPacket(1)
	bad["version"] = "2.0"
	require.NoError(t, client.WriteJSON(bad))

	frame := readFrame(t, client)
	assert.Equal(t, "error", frame["status"])
	assert.Equal(t, "UNSUPPORTED_VERSION", frame["error"])
	assert.Equal(t, "Unsupported protocol version: 2.0", frame["message"])

	// The stream survives the protocol error.
	require.NoError(t, client.WriteJSON(commandPacket(2)))
	ack := readFrame(t, client)
	assert.Equal(t, "success", ack["status"])
}

func TestClientCommandForForeignDeviceClosesStream(t *testing.T) {
	f := newWSFixture(t)

	client := f.dialClient(t, "cli-1", f.bob.APIToken)
	defer client.Close()

	require.NoError(t, client.WriteJSON(commandPacket(1)))

	frame := readFrame(t, client)
	assert.Equal(t, "DEVICE_NOT_FOUND", frame["error"])
	expectClose(t, client, websocket.ClosePolicyViolation)

	// Nothing was queued for the device the caller does not own.
	n, err := f.store.CountEnvelopes(context.Background(), model.DirectionToDevice)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestDeviceResponseWithNoClientParksDurably(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	device := f.dialDevice(t, "dev-1", f.alice.APIToken)
	defer device.Close()

	require.NoError(t, device.WriteJSON(map[string]any{
		"device_id":       "dev-1",
		"payload":         "unsolicited-response",
		"signature":       "sig",
		"version":         "1.0",
		"request_counter": 42,
	}))

	// No client ever asked, so the response waits in the durable queue
	// for a poll.
	require.Eventually(t, func() bool {
		n, err := f.store.CountEnvelopes(ctx, model.DirectionToClient)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	// The response frame carried a counter; presence tracking keeps the
	// highest one seen.
	require.Eventually(t, func() bool {
		dev, err := f.store.DeviceByID(ctx, "dev-1")
		return err == nil && dev.LastRequestCounter == 42
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDeviceStreamReplacedByReconnect(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	// A queued row lets each attach be observed: the stream that flushes
	// it has finished registering.
	seed := func(payload string) {
		t.Helper()
		_, err := f.store.AppendEnvelope(ctx, model.Envelope{
			DeviceID:  "dev-1",
			Type:      model.MessageCommand,
			Payload:   payload,
			Signature: "sig",
			Direction: model.DirectionToDevice,
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	seed("for-first")
	first := f.dialDevice(t, "dev-1", f.alice.APIToken)
	defer first.Close()
	assert.Equal(t, "for-first", readFrame(t, first)["payload"])

	seed("for-second")
	second := f.dialDevice(t, "dev-1", f.alice.APIToken)
	defer second.Close()
	assert.Equal(t, "for-second", readFrame(t, second)["payload"])

	// Last writer wins: live traffic now lands on the replacement.
	client := f.dialClient(t, "cli-1", f.alice.APIToken)
	defer client.Close()
	require.NoError(t, client.WriteJSON(commandPacket(9)))

	cmd := readFrame(t, second)
	assert.Equal(t, "encrypted-command", cmd["payload"])

	ack := readFrame(t, client)
	assert.Equal(t, true, ack["delivered"])
}
