package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
)

func testMessage() port.OTPMessage {
	return port.OTPMessage{
		Recipient: "Amara",
		Email:     "amara@coop.example.com",
		Phone:     "+2348012345678",
		Code:      "482913",
		Purpose:   port.OTPPurposeLogin,
		ExpiresIn: "10 minutes",
	}
}

func TestSendOTPDeliversToBothChannels(t *testing.T) {
	var emailBody emailPayload
	emailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&emailBody); err != nil {
			t.Errorf("decode email payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer emailSrv.Close()

	var smsBody smsPayload
	smsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&smsBody); err != nil {
			t.Errorf("decode sms payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer smsSrv.Close()

	gw := NewGateway(config.NotifySettings{
		EmailWebhookURL: emailSrv.URL,
		SMSWebhookURL:   smsSrv.URL,
		SenderName:      "Koshcoop Society",
		ChannelTimeout:  2 * time.Second,
	}, nil)

	receipt := gw.SendOTP(context.Background(), testMessage())

	if !receipt.EmailSent || !receipt.SMSSent {
		t.Fatalf("expected both channels delivered, got %+v", receipt)
	}
	if receipt.EmailErr != "" || receipt.SMSErr != "" {
		t.Fatalf("expected no channel errors, got %+v", receipt)
	}
	if emailBody.To != "amara@coop.example.com" {
		t.Fatalf("unexpected email recipient %q", emailBody.To)
	}
	if !strings.Contains(emailBody.Body, "482913") {
		t.Fatalf("email body missing code: %q", emailBody.Body)
	}
	if smsBody.To != "+2348012345678" {
		t.Fatalf("unexpected sms recipient %q", smsBody.To)
	}
	if !strings.Contains(smsBody.Message, "482913") {
		t.Fatalf("sms message missing code: %q", smsBody.Message)
	}
}

func TestSendOTPToleratesSingleChannelFailure(t *testing.T) {
	emailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer emailSrv.Close()

	smsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer smsSrv.Close()

	gw := NewGateway(config.NotifySettings{
		EmailWebhookURL: emailSrv.URL,
		SMSWebhookURL:   smsSrv.URL,
		ChannelTimeout:  2 * time.Second,
	}, nil)

	receipt := gw.SendOTP(context.Background(), testMessage())

	if receipt.EmailSent {
		t.Fatal("expected email channel to fail")
	}
	if !strings.Contains(receipt.EmailErr, "502") {
		t.Fatalf("expected status in email error, got %q", receipt.EmailErr)
	}
	if !receipt.SMSSent {
		t.Fatalf("expected sms channel to succeed, got %+v", receipt)
	}
}

func TestSendOTPSkipsChannelsWithoutAddress(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := NewGateway(config.NotifySettings{
		EmailWebhookURL: srv.URL,
		SMSWebhookURL:   srv.URL,
		ChannelTimeout:  2 * time.Second,
	}, nil)

	msg := testMessage()
	msg.Email = ""
	msg.Phone = ""

	receipt := gw.SendOTP(context.Background(), msg)

	if called {
		t.Fatal("no webhook should be invoked without an address")
	}
	if receipt.EmailSent || receipt.SMSSent {
		t.Fatalf("expected empty receipt, got %+v", receipt)
	}
}

func TestSendOTPChannelTimeout(t *testing.T) {
	release := make(chan struct{})
	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer slowSrv.Close()
	defer close(release)

	gw := NewGateway(config.NotifySettings{
		SMSWebhookURL:  slowSrv.URL,
		ChannelTimeout: 100 * time.Millisecond,
	}, nil)

	msg := testMessage()
	msg.Email = ""

	start := time.Now()
	receipt := gw.SendOTP(context.Background(), msg)

	if receipt.SMSSent {
		t.Fatal("expected sms delivery to time out")
	}
	if receipt.SMSErr == "" {
		t.Fatal("expected timeout recorded in receipt")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not bound the call, took %s", elapsed)
	}
}
