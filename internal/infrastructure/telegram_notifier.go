package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"convertapi/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramHTTPTimeout = 10 * time.Second

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts job outcomes to an operations chat. Failures are
// always sent; completions only when notifyCompleted is set.
type TelegramNotifier struct {
	bot             telegramSender
	chatID          int64
	notifyCompleted bool
}

func NewTelegramNotifier(token string, chatID int64, notifyCompleted bool) (*TelegramNotifier, error) {
	client := &http.Client{Timeout: telegramHTTPTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, notifyCompleted: notifyCompleted}, nil
}

func (n *TelegramNotifier) JobFinished(ctx context.Context, job *entities.Job) error {
	if job.Status != entities.JobFailed && !(n.notifyCompleted && job.Status == entities.JobCompleted) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, formatJobMessage(job))
	msg.ParseMode = tgbotapi.ModeMarkdown

	// Send takes no context; give up waiting when ctx ends.
	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatJobMessage(job *entities.Job) string {
	var b strings.Builder
	if job.Status == entities.JobFailed {
		b.WriteString("*Conversion failed*\n")
	} else {
		b.WriteString("*Conversion completed*\n")
	}
	fmt.Fprintf(&b, "Job: `%s`\n", job.ID)
	fmt.Fprintf(&b, "Tool: %s\n", job.ToolType)
	fmt.Fprintf(&b, "Input: %s (%d bytes)\n", escapeMarkdown(job.InputFilename), job.InputFileSize)
	if job.UserID != "" {
		fmt.Fprintf(&b, "User: `%s`\n", job.UserID)
	}
	fmt.Fprintf(&b, "Time: %dms\n", job.ProcessingTimeMs)
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", escapeMarkdown(job.ErrorMessage))
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
