// Package alert sends a digest of new and exclusive listings after a run.
package alert

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/muskokacottagefinder/mcf/internal/project"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// maxMessageLen is Telegram's limit on one message, in UTF-16 code units.
// Messages are split well below it on line boundaries.
const maxMessageLen = 3800

// Notifier delivers a run's digest.
type Notifier interface {
	Notify(ctx context.Context, bundle *project.ReportBundle) error
}

// Config holds alerting configuration
type Config struct {
	// Token is the Telegram bot token (MCF_TELEGRAM_TOKEN). Empty disables alerts.
	Token string `yaml:"telegram_token"`

	// ChatID receives the digest (MCF_TELEGRAM_CHAT_ID)
	ChatID int64 `yaml:"telegram_chat_id"`

	// MaxListings caps how many listings each section shows
	// Default: 20
	MaxListings int `yaml:"max_listings"`

	// OnlyWhenChanged skips the digest when the run found nothing new
	// Default: true
	OnlyWhenChanged bool `yaml:"only_when_changed"`
}

// DefaultConfig returns the default alert configuration
func DefaultConfig() Config {
	return Config{MaxListings: 20, OnlyWhenChanged: true}
}

// Enabled reports whether a bot token is configured.
func (c Config) Enabled() bool {
	return c.Token != ""
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MaxListings < 1 {
		return fmt.Errorf("max_listings must be at least 1 (got %d)", c.MaxListings)
	}
	if c.Enabled() && c.ChatID == 0 {
		return fmt.Errorf("telegram_chat_id is required when a telegram token is set")
	}
	return nil
}

// Sender sends one HTML message to a chat.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// TelegramSender implements Sender with the Bot API.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender authenticates the bot token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

// SendHTML sends text with HTML parse mode and link previews disabled.
func (s *TelegramSender) SendHTML(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// TelegramNotifier formats a ReportBundle and sends it through a Sender.
type TelegramNotifier struct {
	sender Sender
	cfg    Config
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier creates a notifier.
func NewTelegramNotifier(sender Sender, cfg Config) (*TelegramNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("telegram notifier requires a sender")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alert config: %w", err)
	}
	return &TelegramNotifier{sender: sender, cfg: cfg}, nil
}

// Notify sends the digest, split into as many messages as needed.
func (n *TelegramNotifier) Notify(ctx context.Context, bundle *project.ReportBundle) error {
	if bundle == nil || bundle.Run == nil {
		return fmt.Errorf("alert: bundle has no run")
	}
	if n.cfg.OnlyWhenChanged && !hasNews(bundle) {
		log.Printf("[ALERT] Run %d: nothing new, digest skipped", bundle.Run.ID)
		return nil
	}

	messages := split(Format(bundle, n.cfg.MaxListings), maxMessageLen)
	for i, msg := range messages {
		if err := n.sender.SendHTML(ctx, n.cfg.ChatID, msg); err != nil {
			return fmt.Errorf("failed to send digest part %d/%d: %w", i+1, len(messages), err)
		}
	}
	log.Printf("[ALERT] Run %d: digest sent in %d message(s)", bundle.Run.ID, len(messages))
	return nil
}

// hasNews reports whether the run itself added or flagged anything.
func hasNews(b *project.ReportBundle) bool {
	r := b.Run
	return r.NewCount > 0 || r.ExclusiveCount > 0 || r.RelistedCount > 0 || len(b.NewBlogPosts) > 0
}

var printer = message.NewPrinter(language.English)

// Format renders the digest as Telegram HTML.
func Format(b *project.ReportBundle, maxListings int) string {
	r := b.Run
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏡 <b>Cottage report: run %d</b> (%s)\n", r.ID, r.StartedAt.Format("Jan 2, 2006"))
	fmt.Fprintf(&sb, "New %d · Updated %d · Exclusive %d · Relisted %d · Delisted %d\n",
		r.NewCount, r.UpdatedCount, r.ExclusiveCount, r.RelistedCount, r.DelistedCount)
	if r.FailedURLCount > 0 {
		fmt.Fprintf(&sb, "⚠️ %d of %d sites failed\n", r.FailedURLCount, r.InputURLCount)
	}

	section := func(title string, listings []*types.Listing) {
		if len(listings) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n<b>%s (%d)</b>\n", title, len(listings))
		for i, l := range listings {
			if i == maxListings {
				fmt.Fprintf(&sb, "…and %d more\n", len(listings)-maxListings)
				break
			}
			marker := "•"
			if l.FirstSeenRun == r.ID {
				marker = "🆕"
			}
			sb.WriteString(marker + " " + listingLine(l) + "\n")
		}
	}
	section("New this week", b.NewThisWeek)
	section("Exclusives", b.Exclusives)

	if len(b.NewBlogPosts) > 0 {
		fmt.Fprintf(&sb, "\n<b>New blog posts (%d)</b>\n", len(b.NewBlogPosts))
		for i, p := range b.NewBlogPosts {
			if i == maxListings {
				fmt.Fprintf(&sb, "…and %d more\n", len(b.NewBlogPosts)-maxListings)
				break
			}
			title := html.EscapeString(p.Title)
			if p.PostURL != "" {
				title = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(p.PostURL), title)
			}
			sb.WriteString("• " + title + "\n")
		}
	}
	return sb.String()
}

func listingLine(l *types.Listing) string {
	f := l.Fields
	var parts []string
	if f.Price != nil {
		parts = append(parts, printer.Sprintf("$%d", *f.Price))
	}
	addr := "(no address)"
	if f.Address != nil {
		addr = *f.Address
	}
	parts = append(parts, html.EscapeString(addr))
	if f.Lake != nil {
		parts = append(parts, html.EscapeString(*f.Lake))
	}
	if f.Bedrooms != nil {
		parts = append(parts, fmt.Sprintf("%d bd", *f.Bedrooms))
	}
	line := strings.Join(parts, " · ")

	link := l.SourceURL
	if f.ListingURL != nil {
		link = *f.ListingURL
	}
	return fmt.Sprintf(`%s <a href="%s">view</a>`, line, html.EscapeString(link))
}

// split cuts text into chunks of at most limit bytes on line boundaries.
// A single line longer than limit becomes its own chunk.
func split(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len() > 0 && cur.Len()+len(line) > limit {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if s := strings.TrimRight(cur.String(), "\n"); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// Nop discards digests. It is used when alerts are disabled.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, *project.ReportBundle) error { return nil }
