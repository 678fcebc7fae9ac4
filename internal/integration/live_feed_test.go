package integration

import (
	"net/http"
	"strings"
	"testing"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveFeed_StreamsRosterChanges(t *testing.T) {
	s := newStack(t)
	session := startSession(t, s, "teacher1", "10.0.0.5")
	early, _ := join(t, s, session.ID, "early", "10.0.0.20")

	conn := s.dashboard(t, session.ID, "teacher1")

	snapshot := readEvent(t, conn)
	require.Equal(t, "roster_snapshot", snapshot.Type)
	require.Len(t, snapshot.Roster, 1)
	assert.Equal(t, early.ID, snapshot.Roster[0].ID)

	marked, _ := join(t, s, session.ID, "student1", "10.0.1.42")
	event := readEvent(t, conn)
	assert.Equal(t, "attendance_marked", event.Type)
	require.NotNil(t, event.Record)
	assert.Equal(t, marked.ID, event.Record.ID)
	assert.Equal(t, "ABSENT", event.Record.Status)

	// a duplicate join changes nothing and publishes nothing
	join(t, s, session.ID, "student1", "10.0.0.42")

	var updated recordBody
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPatch, "/api/attendance/"+marked.ID, map[string]string{"status": "PRESENT"}, &updated))
	event = readEvent(t, conn)
	assert.Equal(t, "attendance_updated", event.Type)
	assert.Equal(t, "PRESENT", event.Record.Status)

	require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, "/api/sessions/"+session.ID+"/end", nil, &sessionBody{}))
	event = readEvent(t, conn)
	assert.Equal(t, "session_ended", event.Type)
	assert.Equal(t, session.ID, event.SessionID)

	// overrides after the end still reach the dashboard
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPatch, "/api/attendance/"+early.ID, map[string]string{"status": "LATE"}, &updated))
	event = readEvent(t, conn)
	assert.Equal(t, "attendance_updated", event.Type)
	assert.Equal(t, "LATE", event.Record.Status)
}

func TestLiveFeed_OnlyWatchedSessionIsDelivered(t *testing.T) {
	s := newStack(t)
	watched := startSession(t, s, "teacher1", "10.0.0.5")
	other := startSession(t, s, "teacher2", "10.0.0.5")

	conn := s.dashboard(t, watched.ID, "teacher1")
	require.Equal(t, "roster_snapshot", readEvent(t, conn).Type)

	join(t, s, other.ID, "student9", "10.0.0.9")
	join(t, s, watched.ID, "student1", "10.0.0.42")

	event := readEvent(t, conn)
	assert.Equal(t, watched.ID, event.SessionID)
	assert.Equal(t, "student1", event.Record.StudentID)

	var body struct {
		Dashboards int `json:"dashboards"`
	}
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/api/sessions/"+watched.ID, nil, &body))
	assert.Equal(t, 1, body.Dashboards)
}

func TestLiveFeed_RejectsForeignTeacher(t *testing.T) {
	s := newStack(t)
	session := startSession(t, s, "teacher1", "10.0.0.5")

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?session_id=" + session.ID + "&teacher_id=teacher2"
	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
