package mqtt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screeps-relay/config"
	"screeps-relay/internal/logger"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		channel string
		want    string
	}{
		{"Simple channel", "screeps", "cpu", "screeps/cpu"},
		{"Room channel", "screeps", "room:W1N1", "screeps/room/W1N1"},
		{"No prefix", "", "cpu", "cpu"},
		{"Wildcards stripped", "screeps", "a+b#c", "screeps/a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopicFor(tt.prefix, tt.channel))
		})
	}
}

func TestSinkPublish(t *testing.T) {
	client := NewMockClient()
	sink := newSinkWithClient(client, "screeps", 1, logger.NewNop())

	err := sink.Publish("room:W1N1", []byte(`{"channel":"room:W1N1"}`))
	require.NoError(t, err)

	require.Len(t, client.published, 1)
	assert.Equal(t, "screeps/room/W1N1", client.published[0].topic)
	assert.Equal(t, byte(1), client.published[0].qos)
}

func TestSinkPublishNotConnected(t *testing.T) {
	client := NewMockClient()
	client.connected.Store(false)
	sink := newSinkWithClient(client, "screeps", 0, logger.NewNop())

	err := sink.Publish("cpu", []byte("{}"))
	assert.Error(t, err)
}

func TestSinkPublishTokenError(t *testing.T) {
	client := NewMockClient()
	client.publishErr = fmt.Errorf("broker rejected")
	sink := newSinkWithClient(client, "screeps", 0, logger.NewNop())

	err := sink.Publish("cpu", []byte("{}"))
	assert.Error(t, err)
}

func TestNewSinkRequiresBroker(t *testing.T) {
	_, err := NewSink(&config.MQTTConfig{}, logger.NewNop())
	assert.Error(t, err)
}
