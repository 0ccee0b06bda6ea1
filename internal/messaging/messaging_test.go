package messaging

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strings"
	"testing"

	"github.com/sandeepkv93/tasksync/internal/model"
)

type recordingSMS struct{ to, text string }

func (r *recordingSMS) SendSMS(_ context.Context, phone, text string) error {
	r.to, r.text = phone, text
	return nil
}

func TestCompositeRoutesAndReportsMissingSenders(t *testing.T) {
	sms := &recordingSMS{}
	gw := Composite{SMS: sms}
	ctx := context.Background()

	if err := gw.SendSMS(ctx, "+15550100", "hi"); err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if sms.to != "+15550100" || sms.text != "hi" {
		t.Fatalf("sms not routed: %#v", sms)
	}
	if err := gw.SendEmail(ctx, "a@b.c", "s", "b"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := gw.PlaceVoiceCall(ctx, "+1", "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTransientClassifiesNetworkErrors(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if err := transient("send", netErr); !errors.Is(err, model.ErrTransientNetwork) {
		t.Fatalf("expected transient error, got %v", err)
	}
	plain := errors.New("invalid number")
	err := transient("send", plain)
	if errors.Is(err, model.ErrTransientNetwork) || !errors.Is(err, plain) {
		t.Fatalf("rejection must not be transient: %v", err)
	}
	if transient("send", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestSMTPComposeHeaders(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", FromName: "Tasks", FromEmail: "tasks@example.com"})
	if err != nil {
		t.Fatalf("new smtp: %v", err)
	}
	msg := string(s.compose("me@example.com", "Reminder: Pay rent", "due at 10:00"))
	for _, want := range []string{
		"From: Tasks <tasks@example.com>\r\n",
		"To: me@example.com\r\n",
		"Subject: Reminder: Pay rent\r\n",
		"\r\n\r\ndue at 10:00",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if _, err := NewSMTP(SMTPConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestVoiceTwimlEscapesScript(t *testing.T) {
	got := voiceTwiml("Call <Bob> & Alice")
	if got != "<Response><Say>Call &lt;Bob&gt; &amp; Alice</Say></Response>" {
		t.Fatalf("unexpected twiml: %s", got)
	}
}

func TestDesktopCommandPerPlatform(t *testing.T) {
	name, args, ok := desktopCommand("linux", "Rent", "due today")
	if !ok || name != "notify-send" || len(args) != 2 || args[0] != "Rent" {
		t.Fatalf("unexpected linux command: %s %v %v", name, args, ok)
	}
	name, args, ok = desktopCommand("darwin", `Say "hi"`, "now")
	if !ok || name != "osascript" || !strings.Contains(args[1], `with title "Say \"hi\""`) {
		t.Fatalf("unexpected darwin command: %s %v", name, args)
	}
	if _, _, ok := desktopCommand("plan9", "a", "b"); ok {
		t.Fatal("unsupported platform should report not ok")
	}
}

func TestDesktopSendPushWrapsRunnerError(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("no desktop notifier on this platform")
	}
	var got []string
	d := &Desktop{run: func(_ context.Context, name string, args ...string) error {
		got = append([]string{name}, args...)
		return errors.New("exit status 1")
	}}
	err := d.SendPush(context.Background(), "", "Rent", "due", nil)
	if err == nil || !strings.Contains(err.Error(), "desktop notify") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if len(got) == 0 {
		t.Fatal("runner not invoked")
	}
}
