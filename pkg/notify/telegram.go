package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/store"
)

// Telegram delivers notifications through a Telegram bot and answers
// a small set of lookup commands.
type Telegram struct {
	bot   *tgbotapi.BotAPI
	chats map[string]int64
	log   *slog.Logger
}

// NewTelegram connects the bot. chats maps channel names (ChannelMain
// and friends) to Telegram chat ids.
func NewTelegram(token string, chats map[string]int64, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram connect: %w", err)
	}
	return &Telegram{
		bot:   bot,
		chats: chats,
		log:   logger.With("component", "telegram"),
	}, nil
}

// Send implements Sender. The Bot API client has no context support;
// the deadline only covers the caller's patience, not the HTTP call.
func (t *Telegram) Send(ctx context.Context, channel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ok := t.chats[channel]
	if !ok {
		return fmt.Errorf("notify: no chat configured for channel %q", channel)
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	return nil
}

// BotReader is the read surface the command loop needs.
type BotReader interface {
	ActiveDevices(ctx context.Context) ([]string, error)
	GetDot(ctx context.Context, deviceID string) (*store.Dot, error)
}

// RunCommands serves bot commands until ctx is cancelled. Supported:
// /nodes lists active devices, /node <id> shows one device.
func (t *Telegram) RunCommands(ctx context.Context, reader BotReader) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	t.log.Info("bot command loop started")
	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return ctx.Err()
		case upd := <-updates:
			if upd.Message == nil || !upd.Message.IsCommand() {
				continue
			}
			reply := t.handleCommand(ctx, reader, upd.Message)
			if reply == "" {
				continue
			}
			if _, err := t.bot.Send(tgbotapi.NewMessage(upd.Message.Chat.ID, reply)); err != nil {
				t.log.Warn("command reply failed", "error", err)
			}
		}
	}
}

func (t *Telegram) handleCommand(ctx context.Context, reader BotReader, msg *tgbotapi.Message) string {
	switch msg.Command() {
	case "nodes":
		ids, err := reader.ActiveDevices(ctx)
		if err != nil {
			t.log.Warn("nodes command failed", "error", err)
			return "lookup failed, try again later"
		}
		return fmt.Sprintf("%d active devices", len(ids))
	case "node":
		arg := strings.TrimSpace(msg.CommandArguments())
		id, err := meshproto.ParseNodeID(arg)
		if err != nil {
			return "usage: /node <!hex or numeric id>"
		}
		dot, err := reader.GetDot(ctx, id.Key())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Sprintf("%s: not on the map", id)
			}
			t.log.Warn("node command failed", "device", id.String(), "error", err)
			return "lookup failed, try again later"
		}
		return formatDot(id, dot)
	default:
		return ""
	}
}

func formatDot(id meshproto.NodeID, dot *store.Dot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", id, SenderName(id, dot))
	if dot.Latitude != 0 && dot.Longitude != 0 {
		fmt.Fprintf(&sb, "position: %.5f, %.5f\n", dot.Latitude, dot.Longitude)
	}
	if dot.MQTT == "1" {
		sb.WriteString("relays itself over MQTT\n")
	}
	fmt.Fprintf(&sb, "last seen: %s", dot.STime.Time().Format("2006-01-02 15:04:05"))
	return sb.String()
}
