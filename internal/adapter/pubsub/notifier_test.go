package pubsub

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"
	"github.com/telewake/relay-service/internal/domain/event"
)

func newTestNotifier(t *testing.T) (*EnvelopeNotifier, *gochannel.GoChannel) {
	t.Helper()

	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	n := NewEnvelopeNotifier(ch, ch, slog.Default())
	require.NoError(t, n.Start())
	t.Cleanup(func() {
		n.Stop()
		_ = ch.Close()
	})
	return n, ch
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no wakeup signal")
	}
}

func TestAnnounceWakesWatcher(t *testing.T) {
	n, _ := newTestNotifier(t)

	ch, cancel := n.Watch("dev-1")
	defer cancel()

	err := n.Announce(context.Background(), event.EnvelopeQueued{
		DeviceID:  "dev-1",
		Direction: "to_device",
	})
	require.NoError(t, err)

	waitSignal(t, ch)
}

func TestAnnounceWakesEveryWatcherOfDevice(t *testing.T) {
	n, _ := newTestNotifier(t)

	first, cancelFirst := n.Watch("dev-1")
	defer cancelFirst()
	second, cancelSecond := n.Watch("dev-1")
	defer cancelSecond()
	other, cancelOther := n.Watch("dev-2")
	defer cancelOther()

	require.NoError(t, n.Announce(context.Background(), event.EnvelopeQueued{DeviceID: "dev-1"}))

	waitSignal(t, first)
	waitSignal(t, second)

	select {
	case <-other:
		t.Fatal("watcher of another device woken")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelledWatcherStaysQuiet(t *testing.T) {
	n, _ := newTestNotifier(t)

	ch, cancel := n.Watch("dev-1")
	cancel()

	require.NoError(t, n.Announce(context.Background(), event.EnvelopeQueued{DeviceID: "dev-1"}))

	select {
	case <-ch:
		t.Fatal("cancelled watcher woken")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedHintIsDropped(t *testing.T) {
	n, ch := newTestNotifier(t)

	watch, cancel := n.Watch("dev-1")
	defer cancel()

	// Raw garbage on the topic must not kill the fan-out loop.
	bad := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	require.NoError(t, ch.Publish(event.TopicEnvelopeQueued, bad))

	require.NoError(t, n.Announce(context.Background(), event.EnvelopeQueued{DeviceID: "dev-1"}))
	waitSignal(t, watch)
}

func TestSignalIsCoalesced(t *testing.T) {
	n := NewEnvelopeNotifier(nil, nil, slog.Default())

	ch, cancel := n.Watch("dev-1")
	defer cancel()

	for i := 0; i < 3; i++ {
		n.wake("dev-1")
	}

	// The buffer holds one pending signal at most; extra hints collapse.
	waitSignal(t, ch)
	select {
	case <-ch:
		t.Fatal("more than one buffered signal")
	default:
	}
}
