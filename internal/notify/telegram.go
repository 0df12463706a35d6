package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"scoutline/internal/apperror"
	"scoutline/internal/breaker"
	"scoutline/internal/logger"
)

type TelegramConfig struct {
	Token   string
	ChatID  string
	APIBase string
	Timeout time.Duration
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker[*resty.Response]
	chatID string
	url    string
}

func NewTelegram(cfg TelegramConfig, log *logger.Logger) *Telegram {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.Timeout)

	bcfg := breaker.DefaultConfig("telegram")
	if log != nil {
		bcfg.OnStateChange = func(name string, from, to gobreaker.State) {
			log.WithFields(logger.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state change")
		}
	}
	return &Telegram{
		client: client,
		cb:     breaker.New[*resty.Response](bcfg),
		chatID: cfg.ChatID,
		url:    strings.TrimRight(cfg.APIBase, "/") + "/bot" + cfg.Token + "/sendMessage",
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	ReplyMarkup           *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

var buttonLabels = map[string]string{
	ActionApprove:  "✅ Approve",
	ActionReject:   "❌ Reject",
	ActionEscalate: "💬 Escalate",
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	req := sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  msg.Text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	}
	if len(msg.Actions) > 0 && msg.MissionID != "" {
		row := make([]inlineButton, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			label := buttonLabels[a]
			if label == "" {
				label = a
			}
			row = append(row, inlineButton{Text: label, CallbackData: a + "_" + msg.MissionID})
		}
		req.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: [][]inlineButton{row}}
	}

	var body telegramResponse
	resp, err := t.cb.Execute(func() (*resty.Response, error) {
		resp, err := t.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&body).
			SetError(&body).
			Post(t.url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
			return resp, fmt.Errorf("telegram status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		return apperror.Wrap(breaker.Translate("telegram", err), apperror.CodeNotifyFailed, "telegram sendMessage")
	}
	if resp.StatusCode() != 200 || !body.OK {
		return apperror.New(apperror.CodeNotifyFailed,
			apperror.WithContext(fmt.Sprintf("telegram status %d: %s", resp.StatusCode(), body.Description)))
	}
	return nil
}
