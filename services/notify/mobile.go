package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PushNotification is one APNs-style push.
type PushNotification struct {
	Title string
	Body  string
	Badge int
	Sound string
	Topic string
	Data  map[string]any
}

// Pusher delivers a push to a single device token. The default simulation
// pusher only logs, matching unconfigured-credentials behavior.
type Pusher interface {
	Push(ctx context.Context, token string, notification PushNotification) error
}

type PusherFunc func(ctx context.Context, token string, notification PushNotification) error

func (f PusherFunc) Push(ctx context.Context, token string, notification PushNotification) error {
	return f(ctx, token, notification)
}

// MobileAdapter fans an event out to the user's registered iOS devices.
type MobileAdapter struct {
	pusher Pusher
	topic  string
}

func NewMobileAdapter(pusher Pusher, topic string) *MobileAdapter {
	if topic == "" {
		topic = "com.kull.app"
	}
	if pusher == nil {
		pusher = PusherFunc(func(ctx context.Context, token string, n PushNotification) error {
			zap.L().Info("mobile push simulation",
				zap.String("token", MaskToken(token)),
				zap.String("title", n.Title),
				zap.String("body", n.Body),
			)
			return nil
		})
	}
	return &MobileAdapter{pusher: pusher, topic: topic}
}

func (a *MobileAdapter) Name() string { return "mobile-apns" }

func (a *MobileAdapter) Send(ctx context.Context, event Event) error {
	devices := eventDevices(event)
	if len(devices) == 0 {
		zap.L().Info("no registered devices for mobile push",
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.Type),
		)
		return nil
	}

	notification := a.formatPush(event)

	var lastErr error
	for _, device := range devices {
		if device.Platform != "" && device.Platform != "ios" {
			continue
		}
		if err := a.pusher.Push(ctx, device.Token, notification); err != nil {
			zap.L().Error("push delivery failed",
				zap.String("token", MaskToken(device.Token)),
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	return lastErr
}

func (a *MobileAdapter) formatPush(event Event) PushNotification {
	n := PushNotification{Sound: "default", Topic: a.topic}

	switch p := event.Payload.(type) {
	case ShootCompleted:
		if p.Report != nil {
			n.Title = p.Report.Notifications.Mobile.Title
			n.Body = p.Report.Notifications.Mobile.Body
			n.Data = map[string]any{
				"type":       event.Type,
				"shootName":  p.Report.ShootName,
				"imageCount": p.Report.Stats.TotalImages,
			}
		} else {
			n.Title = "✅ Shoot Complete!"
			n.Body = "Your shoot has been processed"
			n.Data = map[string]any{"type": event.Type}
		}
	case ShootFailed:
		reason := p.Reason
		if reason == "" {
			reason = "Unknown error"
		}
		n.Title = "❌ Shoot Failed"
		n.Body = "Processing failed: " + reason
		n.Data = map[string]any{"type": event.Type, "shootId": event.ShootID, "reason": reason}
	case CreditLow:
		n.Title = "💳 Credits Running Low"
		n.Body = creditLowBody(p.Remaining)
		n.Data = map[string]any{"type": event.Type, "remaining": p.Remaining}
	default:
		n.Title = "Kull Notification"
		n.Body = event.Type
		n.Data = map[string]any{"type": event.Type}
	}
	return n
}

func eventDevices(event Event) []Device {
	switch p := event.Payload.(type) {
	case ShootCompleted:
		return p.MobileDevices
	case ShootFailed:
		return p.MobileDevices
	case CreditLow:
		return p.MobileDevices
	default:
		return nil
	}
}

func creditLowBody(remaining int64) string {
	return fmt.Sprintf("Only %d credits remaining", remaining)
}

// MaskToken hides the middle of a device token in logs.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:4] + "…" + token[len(token)-4:]
}
