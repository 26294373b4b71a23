package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

// DefaultMinutesTemplate 默认的纪要消息模板。
const DefaultMinutesTemplate = "Hello. Here are the minutes for '{{.Title}}'{{if .URL}}:\n{{.URL}}{{else}}.{{end}}"

// ErrNoRecipients 既没有显式目标也没有可解析的参与者。
var ErrNoRecipients = errors.New("no notification recipients")

// MinutesData 模板输入。
type MinutesData struct {
	Title     string
	URL       string
	MeetingID string
}

// Dispatcher 生成纪要消息并发送给每个收件人，每人一次 Send，不重试。
type Dispatcher struct {
	notifier  Notifier
	directory Directory
	tmpl      *template.Template
	logger    *slog.Logger
}

// NewDispatcher 解析消息模板，空模板使用 DefaultMinutesTemplate。
func NewDispatcher(notifier Notifier, directory Directory, messageTemplate string, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(messageTemplate) == "" {
		messageTemplate = DefaultMinutesTemplate
	}
	tmpl, err := template.New("minutes").Parse(messageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse minutes template: %w", err)
	}
	return &Dispatcher{
		notifier:  notifier,
		directory: directory,
		tmpl:      tmpl,
		logger:    logger.With("component", "notify"),
	}, nil
}

// Render 生成一场会议的消息文本。
func (d *Dispatcher) Render(meeting *conversation.MeetingContext, entities map[string]string) (string, error) {
	data := MinutesData{Title: entities["document_name"]}
	if meeting != nil {
		if meeting.Title != "" {
			data.Title = meeting.Title
		}
		data.URL = meeting.MinutesURL
		data.MeetingID = meeting.MeetingID
	}
	if data.Title == "" {
		data.Title = "meeting"
	}

	var b strings.Builder
	if err := d.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render minutes message: %w", err)
	}
	return b.String(), nil
}

// Dispatch 解析收件人并发送纪要。显式目标优先于会议参与者。
// 失败只记录在结果中，不返回错误。
func (d *Dispatcher) Dispatch(ctx context.Context, meeting *conversation.MeetingContext, entities map[string]string) conversation.NotificationResult {
	var result conversation.NotificationResult

	message, err := d.Render(meeting, entities)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	targets, unresolved, err := d.recipients(ctx, meeting, entities)
	result.Failed = append(result.Failed, unresolved...)
	result.Recipients = len(targets) + len(unresolved)
	if err != nil {
		result.Error = err.Error()
	}
	if result.Recipients == 0 {
		result.Error = ErrNoRecipients.Error()
		return result
	}

	for _, target := range targets {
		if err := d.notifier.Send(ctx, target, message); err != nil {
			d.logger.Warn("delivery failed", "backend", d.notifier.Name(), "target", target.String(), "error", err)
			result.Failed = append(result.Failed, target.String())
			if result.Error == "" {
				result.Error = err.Error()
			}
			continue
		}
		result.Delivered++
	}

	result.Success = result.Delivered == result.Recipients
	result.Partial = result.Delivered > 0 && !result.Success
	if result.Success {
		result.Error = ""
	}
	d.logger.Info("minutes dispatched", "backend", d.notifier.Name(), "delivered", result.Delivered, "recipients", result.Recipients)
	return result
}

func (d *Dispatcher) recipients(ctx context.Context, meeting *conversation.MeetingContext, entities map[string]string) ([]Target, []string, error) {
	if raw := strings.TrimSpace(entities["target_user_or_channel"]); raw != "" {
		target := ParseTarget(raw)
		if target.Kind == TargetUser && d.directory != nil {
			// 先按显示名查目录，查不到时按原值当作 id 使用。
			if found, err := d.directory.Lookup(ctx, []string{raw}); err == nil {
				if id, ok := found[raw]; ok {
					target.ID = id
				}
			}
		}
		return []Target{target}, nil, nil
	}

	if meeting == nil {
		return nil, nil, nil
	}
	names := meeting.ParticipantNames()
	if len(names) == 0 {
		return nil, nil, nil
	}
	if d.directory == nil {
		return nil, names, fmt.Errorf("no participant directory configured")
	}

	found, err := d.directory.Lookup(ctx, names)
	if err != nil {
		return nil, names, fmt.Errorf("participant lookup: %w", err)
	}

	var (
		targets    []Target
		unresolved []string
		seen       = make(map[string]struct{}, len(names))
	)
	for _, name := range names {
		id, ok := found[name]
		if !ok || id == "" {
			unresolved = append(unresolved, name)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, Target{Kind: TargetUser, ID: id})
	}
	return targets, unresolved, nil
}
