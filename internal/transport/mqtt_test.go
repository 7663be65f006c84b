package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edufocus-notify/internal/session"
)

func TestMapEvent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     session.Event
		wantKeep bool
	}{
		{
			name:     "qr challenge",
			raw:      `{"type":"qr","qr":"pair-me"}`,
			want:     session.Event{Kind: session.EventQR, QR: "pair-me"},
			wantKeep: true,
		},
		{
			name:     "credentials update carries blob",
			raw:      `{"type":"credentials","credentials":"Y3JlZHM="}`,
			want:     session.Event{Kind: session.EventCredentials, Credentials: []byte("creds")},
			wantKeep: true,
		},
		{
			name:     "open",
			raw:      `{"type":"open"}`,
			want:     session.Event{Kind: session.EventOpen},
			wantKeep: true,
		},
		{
			name:     "recoverable close",
			raw:      `{"type":"closed","reconnect":true}`,
			want:     session.Event{Kind: session.EventClosedReconnect},
			wantKeep: true,
		},
		{
			name:     "logged-out close",
			raw:      `{"type":"closed","reconnect":false}`,
			want:     session.Event{Kind: session.EventClosedLoggedOut},
			wantKeep: true,
		},
		{
			name:     "unknown type is dropped",
			raw:      `{"type":"presence"}`,
			wantKeep: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev bridgeEvent
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ev))

			got, keep := mapEvent(ev)
			assert.Equal(t, tt.wantKeep, keep)
			if tt.wantKeep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCommandEncoding(t *testing.T) {
	payload, err := json.Marshal(command{
		Action:    "send",
		ID:        "abc-123",
		Recipient: "5511999990000@s.whatsapp.net",
		Payload:   "Olá",
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "send", decoded["action"])
	assert.Equal(t, "abc-123", decoded["id"])
	assert.NotContains(t, decoded, "credentials")
}
