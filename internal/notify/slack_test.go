package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostSendsBlockKitPayload(t *testing.T) {
	var (
		gotContentType string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := NewMessage().
		AddHeader("Lifting Batch Run").
		AddDivider().
		AddSection("Success Metrics: [3/4]")

	require.NoError(t, msg.Post(context.Background(), srv.URL))
	assert.Equal(t, "application/json", gotContentType)

	var payload struct {
		Blocks []struct {
			Type string `json:"type"`
			Text *struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"text"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Len(t, payload.Blocks, 3)

	assert.Equal(t, "header", payload.Blocks[0].Type)
	require.NotNil(t, payload.Blocks[0].Text)
	assert.Equal(t, "plain_text", payload.Blocks[0].Text.Type)
	assert.Equal(t, "Lifting Batch Run", payload.Blocks[0].Text.Text)

	assert.Equal(t, "divider", payload.Blocks[1].Type)
	assert.Nil(t, payload.Blocks[1].Text)

	assert.Equal(t, "section", payload.Blocks[2].Type)
	require.NotNil(t, payload.Blocks[2].Text)
	assert.Equal(t, "mrkdwn", payload.Blocks[2].Text.Type)
}

func TestPostRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := NewMessage().AddSection("x").Post(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestPostUnreachableWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	err := NewMessage().AddSection("x").Post(context.Background(), srv.URL)
	assert.Error(t, err)
}
