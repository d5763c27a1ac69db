package handlers

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shampiniony/sightquest-server/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	event, err := decodeEvent([]byte(`{"event":"chat","anything":{"nested":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "chat", event)

	for _, raw := range []string{``, `null`, `"start_game"`, `{"event":5}`, `{"event":""}`} {
		_, err := decodeEvent([]byte(raw))
		assert.ErrorIs(t, err, game.ErrProtocol, raw)
	}
}

func TestFlexID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: `12`, want: 12},
		{raw: `"12"`, want: 12},
		{raw: `"x"`, wantErr: true},
		{raw: `1.5`, wantErr: true},
		{raw: `true`, wantErr: true},
	}
	for _, tt := range tests {
		var id flexID
		err := json.Unmarshal([]byte(tt.raw), &id)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, int64(id))
	}
}

func TestCredential(t *testing.T) {
	for raw, want := range map[string]string{
		`{"token":"abc"}`: "abc",
		`{"token":42}`:    "42",
	} {
		msg, err := decodeFields([]byte(raw))
		require.NoError(t, err)
		got, err := msg.credential()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{`{}`, `{"token":{"a":1}}`, `{"token":[1]}`} {
		msg, err := decodeFields([]byte(raw))
		require.NoError(t, err)
		_, err = msg.credential()
		assert.ErrorIs(t, err, game.ErrProtocol, raw)
	}
}

func TestCompletionRequiresBothIDs(t *testing.T) {
	msg, err := decodeFields([]byte(`{"event":"task_completed","task_id":5}`))
	require.NoError(t, err)
	_, _, err = msg.completion()
	assert.ErrorIs(t, err, game.ErrProtocol)

	msg, err = decodeFields([]byte(`{"event":"task_completed","task_id":"5","photo_id":9}`))
	require.NoError(t, err)
	task, photo, err := msg.completion()
	require.NoError(t, err)
	assert.Equal(t, int64(5), task)
	assert.Equal(t, int64(9), photo)
}

func TestStatusText(t *testing.T) {
	wrapped := fmt.Errorf("catch: %w", game.ErrUnknownSecret)
	assert.Equal(t, "secret does not exists", statusText(wrapped))
	assert.Equal(t, "game state unavailable", statusText(assert.AnError))
}

func TestStatusMessageBytes(t *testing.T) {
	assert.JSONEq(t, `{"event":"status","message":"connection succeed"}`, string(statusMessageBytes(statusConnected)))
	assert.JSONEq(t, `{"event":"game_finished"}`, string(gameFinishedMessage()))
}
