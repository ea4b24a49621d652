package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
	"github.com/koshcoop/society-security/internal/infra/logger"
)

// Gateway delivers one-time codes over email and SMS webhooks. The two
// channels are dispatched concurrently and each is bounded by its own
// timeout, so one slow provider cannot stall the other.
type Gateway struct {
	cfg    config.NotifySettings
	client *http.Client
	logger *zap.Logger
}

func NewGateway(cfg config.NotifySettings, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}

	timeout := cfg.ChannelTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cfg.ChannelTimeout = timeout

	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

type emailPayload struct {
	To       string `json:"to"`
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

type smsPayload struct {
	To       string `json:"to"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// SendOTP dispatches the code to every channel the account has an address
// for. Delivery failures are reported in the receipt, never as an error.
func (g *Gateway) SendOTP(ctx context.Context, msg port.OTPMessage) port.DeliveryReceipt {
	var (
		receipt port.DeliveryReceipt
		wg      sync.WaitGroup
		mu      sync.Mutex
	)

	if msg.Email != "" && g.cfg.EmailWebhookURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.postJSON(ctx, g.cfg.EmailWebhookURL, emailPayload{
				To:       msg.Email,
				Sender:   g.cfg.SenderName,
				Subject:  subjectFor(msg.Purpose),
				Body:     bodyFor(msg),
				Category: string(msg.Purpose),
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				receipt.EmailErr = err.Error()
				g.logger.Warn("email delivery failed",
					zap.String("purpose", string(msg.Purpose)),
					zap.String("recipient", logger.MaskEmail(msg.Email)),
					zap.Error(err),
				)
				return
			}
			receipt.EmailSent = true
		}()
	}

	if msg.Phone != "" && g.cfg.SMSWebhookURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.postJSON(ctx, g.cfg.SMSWebhookURL, smsPayload{
				To:       msg.Phone,
				Sender:   g.cfg.SenderName,
				Message:  bodyFor(msg),
				Category: string(msg.Purpose),
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				receipt.SMSErr = err.Error()
				g.logger.Warn("sms delivery failed",
					zap.String("purpose", string(msg.Purpose)),
					zap.String("recipient", logger.MaskPhone(msg.Phone)),
					zap.Error(err),
				)
				return
			}
			receipt.SMSSent = true
		}()
	}

	wg.Wait()
	return receipt
}

func (g *Gateway) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.ChannelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}

	return nil
}

func subjectFor(purpose port.OTPPurpose) string {
	switch purpose {
	case port.OTPPurposeUnlock:
		return "Account unlock verification code"
	default:
		return "Your sign-in verification code"
	}
}

func bodyFor(msg port.OTPMessage) string {
	name := msg.Recipient
	if name == "" {
		name = "member"
	}

	switch msg.Purpose {
	case port.OTPPurposeUnlock:
		return fmt.Sprintf("Hello %s, your account unlock code is %s. It expires in %s. If you did not request this, contact your branch office.", name, msg.Code, msg.ExpiresIn)
	default:
		return fmt.Sprintf("Hello %s, your verification code is %s. It expires in %s.", name, msg.Code, msg.ExpiresIn)
	}
}

var _ port.NotificationGateway = (*Gateway)(nil)
