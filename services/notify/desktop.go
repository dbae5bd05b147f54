package notify

import (
	"context"

	"go.uber.org/zap"
)

// DesktopSender pushes a rendered notification to the desktop app. The
// default implementation logs; the desktop sync channel plugs in here.
type DesktopSender func(ctx context.Context, userID, title, body string) error

// DesktopAdapter renders events for the desktop notification center.
type DesktopAdapter struct {
	send DesktopSender
}

func NewDesktopAdapter(send DesktopSender) *DesktopAdapter {
	if send == nil {
		send = func(ctx context.Context, userID, title, body string) error {
			zap.L().Info("desktop notification",
				zap.String("user_id", userID),
				zap.String("title", title),
				zap.String("body", body),
			)
			return nil
		}
	}
	return &DesktopAdapter{send: send}
}

func (a *DesktopAdapter) Name() string { return "desktop" }

func (a *DesktopAdapter) Send(ctx context.Context, event Event) error {
	title, body := formatDesktopAlert(event)
	return a.send(ctx, event.UserID, title, body)
}

func formatDesktopAlert(event Event) (title, body string) {
	switch p := event.Payload.(type) {
	case ShootCompleted:
		if p.Report != nil {
			return p.Report.Notifications.Desktop.Title, p.Report.Notifications.Desktop.Body
		}
		return "✅ Shoot Complete!", "Your shoot has been processed"
	case ShootFailed:
		reason := p.Reason
		if reason == "" {
			reason = "Unknown error"
		}
		return "❌ Shoot Failed", "Processing failed: " + reason
	case CreditLow:
		return "💳 Credits Running Low", creditLowBody(p.Remaining)
	default:
		return "Kull Notification", event.Type
	}
}
