package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MattermostConfig 描述 Mattermost 连接配置。
type MattermostConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// MattermostNotifier 以机器人身份调用 Mattermost REST API v4。
// 用户目标发私信，频道目标直接发帖。
type MattermostNotifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	botID string
}

// NewMattermostNotifier 创建通知器，httpClient 可以为 nil。
func NewMattermostNotifier(cfg MattermostConfig, httpClient *http.Client, logger *slog.Logger) *MattermostNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &MattermostNotifier{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger.With("component", "mattermost"),
	}
}

// Name 实现 Notifier。
func (m *MattermostNotifier) Name() string { return "mattermost" }

type mattermostUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type mattermostChannel struct {
	ID string `json:"id"`
}

type mattermostPost struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

// Send 实现 Notifier。
func (m *MattermostNotifier) Send(ctx context.Context, target Target, message string) error {
	if m.baseURL == "" || m.token == "" {
		return fmt.Errorf("%w: mattermost is not configured", ErrDeliveryFailed)
	}

	channelID := strings.TrimPrefix(target.ID, "#")
	if target.Kind == TargetUser {
		userID, err := m.resolveUser(ctx, target.ID)
		if err != nil {
			return err
		}
		channelID, err = m.directChannel(ctx, userID)
		if err != nil {
			return err
		}
	}

	if err := m.do(ctx, http.MethodPost, "/api/v4/posts", mattermostPost{ChannelID: channelID, Message: message}, nil); err != nil {
		return err
	}
	m.logger.Debug("message posted", "target", target.String())
	return nil
}

// resolveUser 把 "@username" 解析为用户 id，其他值本身就是 id。
func (m *MattermostNotifier) resolveUser(ctx context.Context, raw string) (string, error) {
	if !strings.HasPrefix(raw, "@") {
		return raw, nil
	}
	var user mattermostUser
	path := "/api/v4/users/username/" + url.PathEscape(strings.TrimPrefix(raw, "@"))
	if err := m.do(ctx, http.MethodGet, path, nil, &user); err != nil {
		return "", err
	}
	return user.ID, nil
}

func (m *MattermostNotifier) directChannel(ctx context.Context, userID string) (string, error) {
	botID, err := m.self(ctx)
	if err != nil {
		return "", err
	}
	var channel mattermostChannel
	if err := m.do(ctx, http.MethodPost, "/api/v4/channels/direct", []string{botID, userID}, &channel); err != nil {
		return "", err
	}
	if channel.ID == "" {
		return "", fmt.Errorf("%w: empty direct channel id", ErrDeliveryFailed)
	}
	return channel.ID, nil
}

// self 缓存机器人自己的用户 id。
func (m *MattermostNotifier) self(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.botID != "" {
		return m.botID, nil
	}
	var me mattermostUser
	if err := m.do(ctx, http.MethodGet, "/api/v4/users/me", nil, &me); err != nil {
		return "", err
	}
	m.botID = me.ID
	return m.botID, nil
}

func (m *MattermostNotifier) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrDeliveryFailed, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrDeliveryFailed, path, err)
	}
	return nil
}
