package interfaces_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"geoattend/pkg/interfaces"
	"geoattend/pkg/types"
)

type recordingPublisher struct {
	name string
	log  *[]string
}

func (p recordingPublisher) Publish(event *types.Event) {
	*p.log = append(*p.log, p.name+":"+event.Type)
}

func TestNopPublisher(t *testing.T) {
	var publisher interfaces.EventPublisher = interfaces.NopPublisher{}
	assert.NotPanics(t, func() {
		publisher.Publish(&types.Event{Type: types.EventSessionCreated})
		publisher.Publish(nil)
	})
}

func TestPublishers_FanOutInOrder(t *testing.T) {
	var log []string
	publishers := interfaces.Publishers{
		recordingPublisher{"hub", &log},
		nil,
		recordingPublisher{"metrics", &log},
	}

	publishers.Publish(&types.Event{Type: types.EventAttendanceMarked})
	publishers.Publish(&types.Event{Type: types.EventSessionEnded})

	assert.Equal(t, []string{
		"hub:attendance_marked",
		"metrics:attendance_marked",
		"hub:session_ended",
		"metrics:session_ended",
	}, log)
}

func TestPublishers_Empty(t *testing.T) {
	assert.NotPanics(t, func() {
		interfaces.Publishers(nil).Publish(&types.Event{Type: types.EventSessionCreated})
	})
}

func TestLookupErrors_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("get session: %w", interfaces.ErrSessionNotFound)
	assert.True(t, errors.Is(wrapped, interfaces.ErrSessionNotFound))
	assert.False(t, errors.Is(wrapped, interfaces.ErrRecordNotFound))
}
