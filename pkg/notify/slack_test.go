package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/notify"
)

func TestSlackChannel_RequiresURL(t *testing.T) {
	_, err := notify.NewSlackChannel("", "#alerts")
	assert.ErrorIs(t, err, notify.ErrChannelConfig)
}

func TestSlackChannel_SendsAttachment(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := notify.NewSlackChannel(srv.URL, "#ops")
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), testAlert(model.LevelCritical)))

	assert.Equal(t, "#ops", got["channel"])
	attachments, ok := got["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)

	att := attachments[0].(map[string]any)
	assert.Equal(t, "#cc0000", att["color"])
	assert.Equal(t, "Warden: Disk full", att["title"])
}

func TestSlackChannel_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ch, err := notify.NewSlackChannel(srv.URL, "")
	require.NoError(t, err)
	assert.Error(t, ch.Send(context.Background(), testAlert(model.LevelInfo)))
}
