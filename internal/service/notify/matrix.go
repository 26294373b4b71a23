package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig 描述 Matrix 连接配置。
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// MatrixNotifier 通过 Matrix homeserver 发送纯文本消息。"!room:server" 直接发送，
// "#alias:server" 先解析为房间 id，用户目标首次使用时创建私聊房间并复用。
type MatrixNotifier struct {
	client *mautrix.Client
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[id.UserID]id.RoomID
}

// NewMatrixNotifier 为机器人账号创建 Matrix 客户端。
func NewMatrixNotifier(cfg MatrixConfig, logger *slog.Logger) (*MatrixNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return &MatrixNotifier{
		client: client,
		logger: logger.With("component", "matrix"),
		rooms:  make(map[id.UserID]id.RoomID),
	}, nil
}

// Name 实现 Notifier。
func (m *MatrixNotifier) Name() string { return "matrix" }

// Send 实现 Notifier。
func (m *MatrixNotifier) Send(ctx context.Context, target Target, message string) error {
	roomID, err := m.room(ctx, target)
	if err != nil {
		return err
	}

	if _, err := m.client.SendText(ctx, roomID, message); err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrDeliveryFailed, roomID, err)
	}
	m.logger.Debug("message sent", "room", roomID)
	return nil
}

func (m *MatrixNotifier) room(ctx context.Context, target Target) (id.RoomID, error) {
	switch {
	case target.Kind == TargetUser:
		return m.directRoom(ctx, id.UserID(target.ID))
	case strings.HasPrefix(target.ID, "#"):
		resp, err := m.client.ResolveAlias(ctx, id.RoomAlias(target.ID))
		if err != nil {
			return "", fmt.Errorf("%w: resolve alias %s: %v", ErrDeliveryFailed, target.ID, err)
		}
		return resp.RoomID, nil
	case strings.HasPrefix(target.ID, "!"):
		return id.RoomID(target.ID), nil
	default:
		return "", fmt.Errorf("%w: %q is neither a room id nor an alias", ErrDeliveryFailed, target.ID)
	}
}

func (m *MatrixNotifier) directRoom(ctx context.Context, user id.UserID) (id.RoomID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[user]; ok {
		return room, nil
	}

	resp, err := m.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		Invite:   []id.UserID{user},
		IsDirect: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create direct room with %s: %v", ErrDeliveryFailed, user, err)
	}
	m.rooms[user] = resp.RoomID
	return resp.RoomID, nil
}
