package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"screeps-relay/config"
	"screeps-relay/internal/logger"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		channel string
		want    string
	}{
		{"Simple channel", "screeps", "cpu", "screeps.cpu"},
		{"Room channel", "screeps", "room:W1N1", "screeps.room.W1N1"},
		{"Slash separator", "screeps", "user/console", "screeps.user.console"},
		{"No prefix", "", "cpu", "cpu"},
		{"Space sanitized", "screeps", "bad channel", "screeps.bad_channel"},
		{"Wildcards sanitized", "screeps", "a*b>c", "screeps.a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectFor(tt.prefix, tt.channel))
		})
	}
}

func TestNewSinkRequiresURL(t *testing.T) {
	_, err := NewSink(&config.NATSConfig{}, logger.NewNop())
	assert.Error(t, err)
}
