package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func TestNewSendGridNotifierNilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewSendGridNotifier(SendGridConfig{FromEmail: "a@b.c"}, nil))
}

func TestSendGridNotifierSend(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewSendGridNotifier(SendGridConfig{APIKey: "sg-key", FromEmail: "cobranca@clinica.test", Host: srv.URL}, nil)
	require.NotNil(t, n)
	require.NoError(t, n.Send(context.Background(), Message{To: []string{"ana@example.com"}, Body: "corpo"}))
	assert.Equal(t, DefaultEmailSubject, payload["subject"])
}

func TestSendGridNotifierClassifiesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"invalid email"}]}`))
	}))
	defer srv.Close()

	n := NewSendGridNotifier(SendGridConfig{APIKey: "sg-key", FromEmail: "a@b.c", Host: srv.URL}, nil)
	err := n.Send(context.Background(), Message{To: []string{"bad"}, Body: "x"})
	assert.True(t, IsPermanent(err))
}

func TestSendGridNotifierNoRecipient(t *testing.T) {
	n := NewSendGridNotifier(SendGridConfig{APIKey: "k"}, nil)
	assert.True(t, IsPermanent(n.Send(context.Background(), Message{})))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESNotifierSend(t *testing.T) {
	fake := &fakeSES{}
	n := NewSESNotifier(fake, SESConfig{FromEmail: "cobranca@clinica.test"}, nil)
	require.NoError(t, n.Send(context.Background(), Message{To: []string{"ana@example.com"}, Subject: "Aviso", Body: "texto", HTML: "<p>texto</p>"}))
	assert.Equal(t, "Cobrança <cobranca@clinica.test>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "Aviso", aws.ToString(fake.input.Content.Simple.Subject.Data))
	assert.NotNil(t, fake.input.Content.Simple.Body.Html)
}

func TestSESNotifierClassifiesErrors(t *testing.T) {
	n := NewSESNotifier(&fakeSES{err: &types.MessageRejected{Message: aws.String("rejected")}}, SESConfig{}, nil)
	assert.True(t, IsPermanent(n.Send(context.Background(), Message{To: []string{"a@b.c"}})))

	n = NewSESNotifier(&fakeSES{err: &types.TooManyRequestsException{Message: aws.String("slow down")}}, SESConfig{}, nil)
	assert.True(t, IsTemporary(n.Send(context.Background(), Message{To: []string{"a@b.c"}})))

	n = NewSESNotifier(&fakeSES{err: errors.New("dial tcp: i/o timeout")}, SESConfig{}, nil)
	assert.True(t, IsTemporary(n.Send(context.Background(), Message{To: []string{"a@b.c"}})))
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.test", FromEmail: "cobranca@clinica.test", FromName: "Clínica"})
	require.NotNil(t, n)

	var sent *gomail.Msg
	n.dial = func(_ context.Context, m *gomail.Msg) error {
		sent = m
		return nil
	}
	require.NoError(t, n.Send(context.Background(), Message{To: []string{"ana@example.com"}, Subject: "Aviso", Body: "texto"}))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"Aviso"}, sent.GetGenHeader(gomail.HeaderSubject))
}

func TestSMTPNotifierErrors(t *testing.T) {
	assert.Nil(t, NewSMTPNotifier(SMTPConfig{}))

	n := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.test", FromEmail: "a@b.c"})
	assert.True(t, IsPermanent(n.Send(context.Background(), Message{})))

	n.dial = func(context.Context, *gomail.Msg) error { return errors.New("connection refused") }
	assert.True(t, IsTemporary(n.Send(context.Background(), Message{To: []string{"x@y.z"}})))
}

func TestStubNotifier(t *testing.T) {
	assert.NoError(t, NewStubNotifier(ChannelEmail, nil).Send(context.Background(), Message{To: []string{"a@b.c"}}))
}
