// Package alerting decides when an answered image query raises an alert
// and hands raised alerts to notification channels.
package alerting

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"visionline/internal/domain"
)

const DefaultMessageTemplate = `{{.Detector.Name}}: {{.Detector.Query}} answered {{.Answer}} (score {{printf "%.2f" .Score}})`

// Policy configures the alerts MaybeAlert produces.
type Policy struct {
	Channel domain.AlertChannel
	tmpl    *template.Template
}

// NewPolicy parses messageTemplate; an empty template selects DefaultMessageTemplate.
func NewPolicy(channel domain.AlertChannel, messageTemplate string) (Policy, error) {
	if channel == "" {
		channel = domain.ChannelWebhook
	}
	if _, ok := domain.ParseAlertChannel(string(channel)); !ok {
		return Policy{}, fmt.Errorf("unknown alert channel %q", channel)
	}
	if strings.TrimSpace(messageTemplate) == "" {
		messageTemplate = DefaultMessageTemplate
	}
	tmpl, err := template.New("alert").Option("missingkey=error").Parse(messageTemplate)
	if err != nil {
		return Policy{}, fmt.Errorf("parse alert template: %w", err)
	}
	return Policy{Channel: channel, tmpl: tmpl}, nil
}

// DefaultPolicy is the webhook policy with the built-in message.
func DefaultPolicy() Policy {
	p, _ := NewPolicy(domain.ChannelWebhook, "")
	return p
}

type messageData struct {
	Detector   domain.Detector
	ImageQuery domain.ImageQuery
	Answer     domain.Answer
	Score      float64
}

// MaybeAlert returns an open alert when a binary detector answered YES with
// a score at or above its threshold. Other modes never alert.
func MaybeAlert(iq domain.ImageQuery, det domain.Detector, policy Policy, now time.Time) (domain.Alert, bool) {
	if det.Mode != domain.ModeBinary || !iq.Complete() {
		return domain.Alert{}, false
	}
	if *iq.Answer != domain.AnswerYes || iq.AnswerScore == nil {
		return domain.Alert{}, false
	}
	score := *iq.AnswerScore
	if score < det.ConfidenceThreshold {
		return domain.Alert{}, false
	}
	channel := policy.Channel
	if channel == "" {
		channel = domain.ChannelWebhook
	}
	return domain.Alert{
		ID:           domain.NewID(domain.PrefixAlert),
		DetectorID:   det.ID,
		ImageQueryID: iq.ID,
		Status:       domain.AlertOpen,
		Message:      policy.message(messageData{Detector: det, ImageQuery: iq, Answer: *iq.Answer, Score: score}),
		Channel:      channel,
		CreatedAt:    now.UTC(),
	}, true
}

func (p Policy) message(data messageData) string {
	tmpl := p.tmpl
	if tmpl == nil {
		tmpl = DefaultPolicy().tmpl
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Sprintf("%s: %s answered %s (score %.2f)", data.Detector.Name, data.Detector.Query, data.Answer, data.Score)
	}
	return b.String()
}
