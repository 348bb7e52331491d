package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/alert"
	"gold-price-alerts/internal/config"
)

func testNote() Notification {
	return NewNotification(alert.Decision{
		ProductID:    "AU9999",
		CurrentPrice: decimal.RequireFromString("379"),
		ShouldAlert:  true,
		Level:        alert.LevelHigh,
		Reasons:      []string{"current price is the rolling-window low", "price <dropped> 5.25%"},
		Extremes: &alert.Extremes{
			Highest:     decimal.RequireFromString("400"),
			Lowest:      decimal.RequireFromString("379"),
			Range:       decimal.RequireFromString("21"),
			SampleCount: 3,
		},
		PriceDiff: &alert.PriceDiff{
			AbsoluteDiff:   decimal.RequireFromString("21"),
			PercentDiff:    decimal.RequireFromString("5.25"),
			IsBelowHighest: true,
		},
		ThresholdPct: decimal.RequireFromString("5"),
		Timestamp:    time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC),
	})
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	delivery, err := notifier.Notify(context.Background(), testNote())
	if err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}
	if !delivery["telegram:chat"] {
		t.Fatalf("投递结果应标记成功: %#v", delivery)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "[HIGH] Gold price alert - AU9999") {
		t.Fatalf("text 应包含告警标题: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	delivery, err := notifier.Notify(context.Background(), testNote())
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	if delivery["telegram:chat"] {
		t.Fatal("失败时投递结果应为 false")
	}
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestEmail(t *testing.T, fail map[string]bool) (*EmailNotifier, *[]sentMail) {
	t.Helper()
	n, err := NewEmailNotifier(EmailOptions{
		Provider:   "163",
		Address:    "bot@163.com",
		Password:   "secret",
		Recipients: []string{"a@example.com", "b@example.com"},
	}, testLogger())
	if err != nil {
		t.Fatalf("构造邮件告警器失败: %v", err)
	}
	var sent []sentMail
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if fail[to[0]] {
			return errors.New("550 mailbox unavailable")
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	n.now = func() time.Time { return time.Date(2025, 3, 1, 16, 30, 0, 0, time.UTC) }
	return n, &sent
}

func TestEmailNotifierSendsPerRecipient(t *testing.T) {
	n, sent := newTestEmail(t, nil)

	delivery, err := n.Notify(context.Background(), testNote())
	if err != nil {
		t.Fatalf("邮件发送不应报错: %v", err)
	}
	if delivery.Succeeded() != 2 {
		t.Fatalf("两个收件人都应成功: %#v", delivery)
	}
	if len(*sent) != 2 {
		t.Fatalf("应逐个收件人发送, 实际 %d 封", len(*sent))
	}

	first := (*sent)[0]
	if first.addr != "smtp.163.com:587" {
		t.Fatalf("163 预设地址错误: %s", first.addr)
	}
	if first.from != "bot@163.com" || first.to[0] != "a@example.com" {
		t.Fatalf("发件人或收件人错误: %+v", first)
	}
	for _, want := range []string{
		"Content-Type: text/html; charset=UTF-8",
		"Subject: =?utf-8?q?",
		"当前金价:</td><td>379.00元/克",
		"5.25%",
		"price &lt;dropped&gt; 5.25%",
		"2025-03-01 16:30:00",
	} {
		if !strings.Contains(first.msg, want) {
			t.Fatalf("邮件内容缺少 %q:\n%s", want, first.msg)
		}
	}
}

func TestEmailNotifierPartialFailure(t *testing.T) {
	n, sent := newTestEmail(t, map[string]bool{"a@example.com": true})

	delivery, err := n.Notify(context.Background(), testNote())
	if err == nil {
		t.Fatal("部分失败应返回错误")
	}
	if delivery["a@example.com"] || !delivery["b@example.com"] {
		t.Fatalf("投递结果不正确: %#v", delivery)
	}
	if delivery.Failed() != 1 || len(*sent) != 1 {
		t.Fatalf("应只有一封发送成功")
	}
}

func TestNewEmailNotifierValidation(t *testing.T) {
	if _, err := NewEmailNotifier(EmailOptions{Provider: "gmail", Address: "a", Password: "b"}, testLogger()); err == nil {
		t.Fatal("不支持的邮箱类型应报错")
	}
	if _, err := NewEmailNotifier(EmailOptions{Provider: "qq"}, testLogger()); err == nil {
		t.Fatal("缺少账号密码应报错")
	}
	n, err := NewEmailNotifier(EmailOptions{Host: "mail.internal", Port: 2525, Address: "a", Password: "b"}, testLogger())
	if err != nil {
		t.Fatalf("显式 SMTP 主机不应报错: %v", err)
	}
	if n.addr != "mail.internal:2525" {
		t.Fatalf("unexpected addr %s", n.addr)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier([]string{"a@example.com", "telegram:1"}, testLogger())
	delivery, err := n.Notify(context.Background(), testNote())
	if err != nil {
		t.Fatalf("测试模式不应报错: %v", err)
	}
	if delivery.Succeeded() != 2 {
		t.Fatalf("测试模式应对所有收件人报告成功: %#v", delivery)
	}
}

type stubNotifier struct {
	name     string
	delivery Delivery
	err      error
}

func (s stubNotifier) Name() string { return s.name }

func (s stubNotifier) Notify(context.Context, Notification) (Delivery, error) {
	return s.delivery, s.err
}

func TestMultiMergesDeliveries(t *testing.T) {
	m := Multi{
		stubNotifier{name: "email", delivery: Delivery{"a@example.com": true}},
		stubNotifier{name: "telegram", delivery: Delivery{"telegram:1": false}, err: errors.New("boom")},
	}
	delivery, err := m.Notify(context.Background(), testNote())
	if err == nil || !strings.Contains(err.Error(), "telegram: boom") {
		t.Fatalf("应合并各渠道错误: %v", err)
	}
	if len(delivery) != 2 || !delivery["a@example.com"] || delivery["telegram:1"] {
		t.Fatalf("投递结果合并错误: %#v", delivery)
	}
	if m.Name() != "email,telegram" {
		t.Fatalf("unexpected name %q", m.Name())
	}
}

func TestFromConfig(t *testing.T) {
	n, err := FromConfig(config.AlertingConfig{Enabled: false}, testLogger())
	if err != nil || n != nil {
		t.Fatalf("未启用告警应返回 nil, 实际 %v %v", n, err)
	}

	cfg := config.AlertingConfig{
		Enabled:  true,
		TestMode: true,
		Email:    config.EmailConfig{Enabled: true, Provider: "qq", Address: "a", Password: "b", Recipients: []string{"x@example.com"}},
	}
	n, err = FromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if _, ok := n.(*LogNotifier); !ok {
		t.Fatalf("测试模式应使用 LogNotifier, 实际 %T", n)
	}

	cfg.TestMode = false
	cfg.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1"}
	n, err = FromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if n.Name() != "email,telegram" {
		t.Fatalf("应同时启用两个渠道, 实际 %s", n.Name())
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
