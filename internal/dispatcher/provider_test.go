package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestHTTPProviderSend(t *testing.T) {
	t.Parallel()

	var got model.EmailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message_id":"esp-123","accepted":true}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("esp", srv.URL, "/send", 1000, 3, 1000)
	res, err := p.Send(context.Background(), model.EmailPayload{Recipient: "a@example.com", Subject: "hi", Body: "<p>x</p>"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "esp-123", res.ProviderMessageID)
	require.Equal(t, "esp", res.Provider)
	require.False(t, res.Timestamp.IsZero())
	require.Equal(t, "a@example.com", got.Recipient)
}

func TestHTTPProviderRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message_id":"esp-9","accepted":false}`))
	}))
	defer srv.Close()

	res, err := NewHTTPProvider("esp", srv.URL, "/send", 1000, 3, 1000).
		Send(context.Background(), model.EmailPayload{Recipient: "a@example.com"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "esp-9", res.ProviderMessageID)
}

func TestHTTPProviderServerErrorTripsBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider("esp", srv.URL, "/send", 1000, 2, 60000)
	for i := 0; i < 2; i++ {
		_, err := p.Send(context.Background(), model.EmailPayload{Recipient: "a@example.com"})
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "status=502"))
	}
	require.False(t, p.Ready())
}

type fakeMailSender struct {
	err  error
	sent []*gomail.Message
}

func (f *fakeMailSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestSMTPProviderSetsMessageID(t *testing.T) {
	t.Parallel()

	sender := &fakeMailSender{}
	p := newSMTPProvider(SMTPConfig{FromEmail: "noreply@example.com", FromName: "Team", MessageIDDomain: "mail.example.com"},
		sender, &fakeClock{})

	res, err := p.Send(context.Background(), model.EmailPayload{Recipient: "lead@example.com", Subject: "Hello", Body: "<b>hi</b>"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "smtp", res.Provider)
	require.True(t, strings.HasSuffix(res.ProviderMessageID, "@mail.example.com>"))

	require.Len(t, sender.sent, 1)
	require.Equal(t, []string{res.ProviderMessageID}, sender.sent[0].GetHeader("Message-ID"))
	require.Equal(t, []string{"lead@example.com"}, sender.sent[0].GetHeader("To"))
}

func TestSMTPProviderFailure(t *testing.T) {
	t.Parallel()

	p := newSMTPProvider(SMTPConfig{FailThreshold: 1}, &fakeMailSender{err: errors.New("dial tcp: refused")}, &fakeClock{})
	_, err := p.Send(context.Background(), model.EmailPayload{Recipient: "lead@example.com"})
	require.Error(t, err)
	require.False(t, p.Ready())
}
