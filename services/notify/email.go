package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"kull-server/services/report"
)

// EmailMessage is a fully rendered outbound email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailSender delivers a rendered message. Resolved lazily so the SMTP
// connection is only dialed on the first report email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

type EmailSenderFunc func(ctx context.Context, msg EmailMessage) error

func (f EmailSenderFunc) SendEmail(ctx context.Context, msg EmailMessage) error {
	return f(ctx, msg)
}

// EmailAdapter sends the shoot report by mail. Events without a report or a
// recipient address are ignored.
type EmailAdapter struct {
	resolve func() (EmailSender, error)

	once   sync.Once
	sender EmailSender
	err    error
}

func NewEmailAdapter(resolve func() (EmailSender, error)) *EmailAdapter {
	return &EmailAdapter{resolve: resolve}
}

func (a *EmailAdapter) Name() string { return "email-report" }

func (a *EmailAdapter) Send(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(ShootCompleted)
	if !ok || payload.Report == nil || payload.RecipientEmail == "" {
		return nil
	}

	a.once.Do(func() {
		a.sender, a.err = a.resolve()
	})
	if a.err != nil {
		return fmt.Errorf("resolve email sender: %w", a.err)
	}

	subject, html, text := renderReportEmail(payload.Report)
	return a.sender.SendEmail(ctx, EmailMessage{
		To:      payload.RecipientEmail,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
}

func renderReportEmail(rep *report.Report) (subject, html, text string) {
	subject = fmt.Sprintf("Your shoot report: %s", rep.ShootName)

	var heroLines []string
	var heroItems []string
	for _, hero := range rep.Heroes {
		label := hero.Title
		if label == "" {
			label = hero.Filename
		}
		if label == "" {
			label = hero.ImageID
		}
		line := fmt.Sprintf("%s (%d★)", label, hero.StarRating)
		heroLines = append(heroLines, "- "+line)
		heroItems = append(heroItems, "<li>"+line+"</li>")
	}

	text = fmt.Sprintf("%s\n\n%s\n\nHeroes:\n%s\n",
		rep.ShootName, rep.Narrative, strings.Join(heroLines, "\n"))

	html = fmt.Sprintf(
		"<h1>%s</h1><p>%s</p><p>%d images processed, %d heroes, %d keepers.</p><ul>%s</ul>",
		rep.ShootName, rep.Narrative,
		rep.Stats.TotalImages, rep.Stats.HeroCount, rep.Stats.KeeperCount,
		strings.Join(heroItems, ""),
	)
	return subject, html, text
}
