package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TelegramService sends admin notifications through the Telegram Bot API.
// With no token or chat configured every send is a no-op.
type TelegramService struct {
	apiURL      string
	botToken    string
	adminChatID string
	http        *http.Client
	log         logrus.FieldLogger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(apiURL, botToken, adminChatID string, log logrus.FieldLogger) *TelegramService {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &TelegramService{
		apiURL:      apiURL,
		botToken:    botToken,
		adminChatID: adminChatID,
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log.WithField("component", "telegram"),
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML-formatted message to chatID.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("bot token not configured")
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.log.Debug("admin chat id not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// OrderNotification describes a freshly placed order.
type OrderNotification struct {
	OrderID       string
	CustomerName  string
	CustomerEmail string
	Items         []OrderItemNotification
	TotalPrice    float64
	Currency      string
	PaymentMethod string
	ShipTo        string
}

// OrderItemNotification is one line of an OrderNotification.
type OrderItemNotification struct {
	Name     string
	Quantity int
	Price    float64
}

// FormatPrice renders amount with thousand separators and two decimals.
func FormatPrice(amount float64, currency string) string {
	str := fmt.Sprintf("%.2f", amount)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	whole, frac, _ := strings.Cut(str, ".")

	var result strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	out := sign + result.String() + "." + frac
	if currency != "" {
		out += " " + currency
	}
	return out
}

// FormatOrderMessage renders the admin message for a new order.
func FormatOrderMessage(order OrderNotification) string {
	var items strings.Builder
	for i, item := range order.Items {
		fmt.Fprintf(&items, "%d. <b>%s</b>\n   %d x %s = %s\n",
			i+1,
			html.EscapeString(item.Name),
			item.Quantity,
			FormatPrice(item.Price, order.Currency),
			FormatPrice(item.Price*float64(item.Quantity), order.Currency),
		)
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>Order:</b> %s
<b>Customer:</b> %s (%s)
<b>Ship to:</b> %s
<b>Items:</b>
%s
<b>Total:</b> %s
<b>Payment:</b> %s
━━━━━━━━━━━━━━━━━━`,
		order.OrderID,
		html.EscapeString(order.CustomerName),
		html.EscapeString(order.CustomerEmail),
		html.EscapeString(order.ShipTo),
		items.String(),
		FormatPrice(order.TotalPrice, order.Currency),
		html.EscapeString(order.PaymentMethod),
	)
	return strings.TrimSpace(message)
}

// NotifyNewOrder sends notification about a new order to the admin chat.
func (s *TelegramService) NotifyNewOrder(ctx context.Context, order OrderNotification) error {
	return s.SendToAdmin(ctx, FormatOrderMessage(order))
}

// PaymentSuccessNotification describes a verified payment.
type PaymentSuccessNotification struct {
	OrderID    string
	PaymentID  string
	Amount     float64
	Currency   string
	PayerEmail string
}

// NotifyPaymentSuccess sends notification about a verified payment.
func (s *TelegramService) NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) error {
	message := fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>Order:</b> %s
<b>Payment:</b> %s
<b>Amount:</b> %s
<b>Payer:</b> %s
━━━━━━━━━━━━━━━━━━`,
		payment.OrderID,
		html.EscapeString(payment.PaymentID),
		FormatPrice(payment.Amount, payment.Currency),
		html.EscapeString(payment.PayerEmail),
	)
	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}
