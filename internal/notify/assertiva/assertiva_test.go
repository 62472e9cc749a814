package assertiva

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-collections/internal/notify"
)

const base = "https://sms.example.test"

func newMocked(t *testing.T) (*Notifier, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	n, err := New(Config{BaseURL: base, AuthToken: "YmFzaWM=", HTTPClient: &http.Client{Transport: mt}})
	require.NoError(t, err)
	return n, mt
}

func tokenResponder(t *testing.T) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Basic YmFzaWM=", req.Header.Get("Authorization"))
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "client_credentials", req.PostForm.Get("grant_type"))
		return httpmock.NewJsonResponse(200, map[string]any{"access_token": "tok-1", "expires_in": 3600})
	}
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSendFetchesTokenOnceAndPostsBatch(t *testing.T) {
	n, mt := newMocked(t)
	mt.RegisterResponder(http.MethodPost, base+"/oauth2/v3/token", tokenResponder(t))

	var captured sendRequest
	mt.RegisterResponder(http.MethodPost, base+"/sms/v3/send", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
		return httpmock.NewStringResponse(200, `{}`), nil
	})

	msg := notify.Message{To: []string{"+5511999990000"}, Body: "Olá"}
	require.NoError(t, n.Send(context.Background(), msg))
	require.NoError(t, n.Send(context.Background(), msg))

	info := mt.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+base+"/oauth2/v3/token"])
	assert.Equal(t, 2, info["POST "+base+"/sms/v3/send"])

	require.Len(t, captured.ArraySMS, 1)
	assert.Equal(t, "5511999990000", captured.ArraySMS[0].Number)
	assert.Equal(t, "Olá", captured.ArraySMS[0].Message)
	assert.Equal(t, 1, captured.RouteType)
}

func TestSendRefreshesExpiredToken(t *testing.T) {
	n, mt := newMocked(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	mt.RegisterResponder(http.MethodPost, base+"/oauth2/v3/token", tokenResponder(t))
	mt.RegisterResponder(http.MethodPost, base+"/sms/v3/send", httpmock.NewStringResponder(200, `{}`))

	msg := notify.Message{To: []string{"5511999990000"}, Body: "x"}
	require.NoError(t, n.Send(context.Background(), msg))
	now = now.Add(2 * time.Hour)
	require.NoError(t, n.Send(context.Background(), msg))

	assert.Equal(t, 2, mt.GetCallCountInfo()["POST "+base+"/oauth2/v3/token"])
}

func TestSendClassifiesGatewayErrors(t *testing.T) {
	n, mt := newMocked(t)
	mt.RegisterResponder(http.MethodPost, base+"/oauth2/v3/token", tokenResponder(t))
	mt.RegisterResponder(http.MethodPost, base+"/sms/v3/send", httpmock.NewStringResponder(503, `{"message":"down"}`))

	err := n.Send(context.Background(), notify.Message{To: []string{"5511999990000"}, Body: "x"})
	require.Error(t, err)
	assert.True(t, notify.IsTemporary(err))
}

func TestSendUnauthorizedDropsCachedToken(t *testing.T) {
	n, mt := newMocked(t)
	mt.RegisterResponder(http.MethodPost, base+"/oauth2/v3/token", tokenResponder(t))
	mt.RegisterResponder(http.MethodPost, base+"/sms/v3/send", httpmock.NewStringResponder(401, `{"message":"expired"}`))

	err := n.Send(context.Background(), notify.Message{To: []string{"5511999990000"}, Body: "x"})
	require.Error(t, err)
	assert.True(t, notify.IsPermanent(err))
	assert.Empty(t, n.token)
}

func TestSendWithoutRecipientIsPermanent(t *testing.T) {
	n, _ := newMocked(t)
	err := n.Send(context.Background(), notify.Message{To: []string{" "}, Body: "x"})
	assert.True(t, notify.IsPermanent(err))
}
