package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kull-server/services/rating"
	"kull-server/services/report"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recordingAdapter struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) Send(ctx context.Context, event Event) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	return a.err
}

func (a *recordingAdapter) received() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

func sampleReport(name string) *report.Report {
	return report.Build(context.Background(), report.BuildArgs{
		ShootName: name,
		Ratings:   []rating.Result{{ImageID: "1", StarRating: 5, Title: "Top"}},
	})
}

func TestGatewayRoutesByChannel(t *testing.T) {
	bus := NewBus()
	gw := NewGateway(bus)

	desktop := &recordingAdapter{name: "desktop"}
	mobile := &recordingAdapter{name: "mobile"}
	gw.Register(ChannelDesktop, desktop)
	gw.Register(ChannelMobile, mobile)

	gw.Dispatch(context.Background(), NewEvent("u1", "", []string{ChannelDesktop}, ShootFailed{Reason: "timeout"}))

	require.Len(t, desktop.received(), 1)
	require.Empty(t, mobile.received())
}

func TestGatewayFailureIsolation(t *testing.T) {
	bus := NewBus()
	gw := NewGateway(bus)

	failing := &recordingAdapter{name: "broken", err: errors.New("boom")}
	healthy := &recordingAdapter{name: "healthy"}
	gw.Register(ChannelDesktop, failing)
	gw.Register(ChannelDesktop, healthy)

	// Dispatch must not panic or return early because one adapter failed.
	gw.Dispatch(context.Background(), NewEvent("u1", "", []string{ChannelDesktop}, ShootFailed{Reason: "x"}))

	require.Len(t, failing.received(), 1)
	require.Len(t, healthy.received(), 1)
}

func TestGatewayMultipleAdaptersPerChannel(t *testing.T) {
	bus := NewBus()
	gw := NewGateway(bus)

	first := &recordingAdapter{name: "first"}
	second := &recordingAdapter{name: "second"}
	gw.Register(ChannelMobile, first)
	gw.Register(ChannelMobile, second)

	gw.Dispatch(context.Background(), NewEvent("u1", "s1", []string{ChannelMobile}, CreditLow{Remaining: 40}))

	require.Len(t, first.received(), 1)
	require.Len(t, second.received(), 1)
}

func TestGatewayAsyncOffBus(t *testing.T) {
	bus := NewBus()
	gw := NewGateway(bus)

	adapter := &recordingAdapter{name: "slow"}
	gw.Register(ChannelDesktop, adapter)

	bus.Emit(NewEvent("u1", "", []string{ChannelDesktop}, ShootFailed{Reason: "x"}))
	gw.Drain()

	require.Len(t, adapter.received(), 1)
}

func TestGatewaySendTimeout(t *testing.T) {
	bus := NewBus()
	gw := NewGateway(bus)
	gw.sendTimeout = 20 * time.Millisecond

	var sawDeadline bool
	gw.Register(ChannelDesktop, adapterFunc("sleepy", func(ctx context.Context, event Event) error {
		select {
		case <-ctx.Done():
			sawDeadline = true
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}))

	start := time.Now()
	gw.Dispatch(context.Background(), NewEvent("u1", "", []string{ChannelDesktop}, ShootFailed{Reason: "x"}))

	require.True(t, sawDeadline)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

type adapterFn struct {
	name string
	fn   func(ctx context.Context, event Event) error
}

func adapterFunc(name string, fn func(ctx context.Context, event Event) error) Adapter {
	return &adapterFn{name: name, fn: fn}
}

func (a *adapterFn) Name() string                                 { return a.name }
func (a *adapterFn) Send(ctx context.Context, event Event) error { return a.fn(ctx, event) }

func TestEmitShootCompletedChannels(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e })

	EmitShootCompleted(bus, Recipient{ID: "u1"}, sampleReport("Dunes"), nil)
	require.Equal(t, []string{ChannelDesktop, ChannelMobile}, got.Channels)
	require.Equal(t, TypeShootCompleted, got.Type)
	require.NotEmpty(t, got.ID)

	EmitShootCompleted(bus, Recipient{ID: "u1", Email: "ansel@example.com"}, sampleReport("Dunes"), nil)
	require.Equal(t, []string{ChannelDesktop, ChannelMobile, ChannelEmail}, got.Channels)

	payload, ok := got.Payload.(ShootCompleted)
	require.True(t, ok)
	require.Equal(t, "ansel@example.com", payload.RecipientEmail)
}

func TestEmitShootCompletedNoUser(t *testing.T) {
	bus := NewBus()

	var calls int
	bus.Subscribe(func(e Event) { calls++ })

	EmitShootCompleted(bus, Recipient{}, sampleReport("Dunes"), nil)
	require.Zero(t, calls)
}

func TestMobileAdapterFormatsAndMasks(t *testing.T) {
	var pushed []PushNotification
	var tokens []string
	adapter := NewMobileAdapter(PusherFunc(func(ctx context.Context, token string, n PushNotification) error {
		tokens = append(tokens, token)
		pushed = append(pushed, n)
		return nil
	}), "")

	devices := []Device{
		{Token: "abcdefghijklmnop", Platform: "ios"},
		{Token: "android-token-xyz", Platform: "android"},
	}

	err := adapter.Send(context.Background(), NewEvent("u1", "", []string{ChannelMobile}, CreditLow{
		Remaining:     42,
		MobileDevices: devices,
	}))
	require.NoError(t, err)
	// Android devices are skipped.
	require.Equal(t, []string{"abcdefghijklmnop"}, tokens)
	require.Equal(t, "💳 Credits Running Low", pushed[0].Title)
	require.Equal(t, "Only 42 credits remaining", pushed[0].Body)
	require.Equal(t, "com.kull.app", pushed[0].Topic)
}

func TestMobileAdapterNoDevices(t *testing.T) {
	var calls int
	adapter := NewMobileAdapter(PusherFunc(func(ctx context.Context, token string, n PushNotification) error {
		calls++
		return nil
	}), "")

	err := adapter.Send(context.Background(), NewEvent("u1", "", []string{ChannelMobile}, ShootFailed{Reason: "x"}))
	require.NoError(t, err)
	require.Zero(t, calls)
}

func TestMaskToken(t *testing.T) {
	require.Equal(t, "abc123", MaskToken("abc123"))
	require.Equal(t, "12345678", MaskToken("12345678"))
	require.Equal(t, "abcd…mnop", MaskToken("abcdefghijklmnop"))
}

func TestEmailAdapterGuards(t *testing.T) {
	var sent []EmailMessage
	adapter := NewEmailAdapter(func() (EmailSender, error) {
		return EmailSenderFunc(func(ctx context.Context, msg EmailMessage) error {
			sent = append(sent, msg)
			return nil
		}), nil
	})

	// No report: skipped.
	err := adapter.Send(context.Background(), NewEvent("u1", "", []string{ChannelEmail}, ShootCompleted{RecipientEmail: "a@b.c"}))
	require.NoError(t, err)
	require.Empty(t, sent)

	// No recipient: skipped.
	err = adapter.Send(context.Background(), NewEvent("u1", "", []string{ChannelEmail}, ShootCompleted{Report: sampleReport("Dunes")}))
	require.NoError(t, err)
	require.Empty(t, sent)

	err = adapter.Send(context.Background(), NewEvent("u1", "", []string{ChannelEmail}, ShootCompleted{
		Report:         sampleReport("Dunes"),
		RecipientEmail: "ansel@example.com",
	}))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, "ansel@example.com", sent[0].To)
	require.Equal(t, "Your shoot report: Dunes", sent[0].Subject)
	require.Contains(t, sent[0].Text, "Dunes")
	require.Contains(t, sent[0].HTML, "<h1>Dunes</h1>")
}

func TestDesktopAdapterUsesReportPayload(t *testing.T) {
	var gotTitle, gotBody string
	adapter := NewDesktopAdapter(func(ctx context.Context, userID, title, body string) error {
		gotTitle, gotBody = title, body
		return nil
	})

	rep := sampleReport("Dunes")
	err := adapter.Send(context.Background(), NewEvent("u1", "", []string{ChannelDesktop}, ShootCompleted{Report: rep}))
	require.NoError(t, err)
	require.Equal(t, rep.Notifications.Desktop.Title, gotTitle)
	require.Equal(t, rep.Notifications.Desktop.Body, gotBody)
}
