package attendance

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/pkg/interfaces"
	"geoattend/pkg/types"
)

// Mock DatabaseManager for testing. CreateAttendance is a plain insert with
// no duplicate check so tests exercise the engine's own pair locking.
type mockDatabaseManager struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	records  []*types.AttendanceRecord

	shouldFailGet    bool
	shouldFailFind   bool
	shouldFailCreate bool
	shouldFailList   bool
	shouldFailCount  bool
}

func newMockDatabaseManager() *mockDatabaseManager {
	return &mockDatabaseManager{sessions: make(map[string]*types.Session)}
}

func (m *mockDatabaseManager) addSession(id, teacherIP string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &types.Session{
		ID:        id,
		TeacherID: "teacher-" + id,
		Subject:   "Physics",
		Date:      time.Now().UTC(),
		TeacherIP: teacherIP,
		IsActive:  active,
	}
}

func (m *mockDatabaseManager) recordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *mockDatabaseManager) CreateSession(ctx context.Context, session *types.Session) error {
	return nil
}

func (m *mockDatabaseManager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if m.shouldFailGet {
		return nil, errors.New("database unavailable")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockDatabaseManager) UpdateSession(ctx context.Context, session *types.Session) error {
	return nil
}

func (m *mockDatabaseManager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}

func (m *mockDatabaseManager) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]*types.Session, error) {
	return nil, nil
}

func (m *mockDatabaseManager) CreateAttendance(ctx context.Context, record *types.AttendanceRecord) (*types.AttendanceRecord, bool, error) {
	if m.shouldFailCreate {
		return nil, false, errors.New("disk full")
	}
	runtime.Gosched()
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *record
	m.records = append(m.records, &stored)
	copied := stored
	return &copied, true, nil
}

func (m *mockDatabaseManager) FindAttendance(ctx context.Context, sessionID, studentID string) (*types.AttendanceRecord, error) {
	if m.shouldFailFind {
		return nil, errors.New("database unavailable")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.SessionID == sessionID && r.StudentID == studentID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, interfaces.ErrRecordNotFound
}

func (m *mockDatabaseManager) GetAttendance(ctx context.Context, recordID string) (*types.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == recordID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, interfaces.ErrRecordNotFound
}

func (m *mockDatabaseManager) UpdateAttendanceStatus(ctx context.Context, recordID string, status types.AttendanceStatus) (*types.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == recordID {
			r.Status = status
			copied := *r
			return &copied, nil
		}
	}
	return nil, interfaces.ErrRecordNotFound
}

func (m *mockDatabaseManager) ListAttendanceBySession(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error) {
	return m.list(func(r *types.AttendanceRecord) bool { return r.SessionID == sessionID })
}

func (m *mockDatabaseManager) ListAttendanceByStudent(ctx context.Context, studentID string) ([]*types.AttendanceRecord, error) {
	return m.list(func(r *types.AttendanceRecord) bool { return r.StudentID == studentID })
}

// list returns matches newest first, i.e. reverse insertion order
func (m *mockDatabaseManager) list(match func(*types.AttendanceRecord) bool) ([]*types.AttendanceRecord, error) {
	if m.shouldFailList {
		return nil, errors.New("database unavailable")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*types.AttendanceRecord{}
	for i := len(m.records) - 1; i >= 0; i-- {
		if match(m.records[i]) {
			copied := *m.records[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockDatabaseManager) CountAttendanceByStatus(ctx context.Context) (types.StatusCounts, error) {
	if m.shouldFailCount {
		return nil, errors.New("database unavailable")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := types.StatusCounts{}
	for _, r := range m.records {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *mockDatabaseManager) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDatabaseManager) Close() error                          { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*types.Event
}

func (p *recordingPublisher) Publish(event *types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) snapshot() []*types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Event(nil), p.events...)
}

func setupEngine(t *testing.T) (*Engine, *mockDatabaseManager, *recordingPublisher) {
	t.Helper()
	dbManager := newMockDatabaseManager()
	dbManager.addSession("s1", "10.0.0.5", true)
	publisher := &recordingPublisher{}
	return NewEngine(dbManager, publisher), dbManager, publisher
}

func TestEngine_InterfaceCompliance(t *testing.T) {
	var _ interfaces.AttendanceEngine = NewEngine(newMockDatabaseManager(), nil)
}

// Student on the teacher's /24 is PRESENT
func TestEngine_MarkAttendanceSameSubnet(t *testing.T) {
	engine, _, publisher := setupEngine(t)

	record, err := engine.MarkAttendance(context.Background(), "s1", "student1", "Ada", "10.0.0.42")
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "s1", record.SessionID)
	assert.Equal(t, "student1", record.StudentID)
	assert.Equal(t, "Ada", record.StudentName)
	assert.Equal(t, "10.0.0.42", record.StudentIP)
	assert.Equal(t, types.StatusPresent, record.Status)
	assert.False(t, record.Timestamp.IsZero())

	events := publisher.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventAttendanceMarked, events[0].Type)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, record.ID, events[0].Record.ID)
}

// Third octet differs, so ABSENT
func TestEngine_MarkAttendanceOtherSubnet(t *testing.T) {
	engine, _, _ := setupEngine(t)

	record, err := engine.MarkAttendance(context.Background(), "s1", "student2", "Grace", "10.0.1.42")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAbsent, record.Status)
}

func TestEngine_MarkAttendanceMalformedAddressIsAbsent(t *testing.T) {
	engine, _, _ := setupEngine(t)

	for i, ip := range []string{"", "unknown", "10.0.0", "::1", "10.0.0.999"} {
		record, err := engine.MarkAttendance(context.Background(), "s1", fmt.Sprintf("student%d", i), "", ip)
		require.NoError(t, err, "ip=%q", ip)
		assert.Equal(t, types.StatusAbsent, record.Status, "ip=%q", ip)
	}
}

// A re-join from a different network returns the first record untouched
func TestEngine_MarkAttendanceRejoinKeepsFirstRecord(t *testing.T) {
	engine, dbManager, publisher := setupEngine(t)
	ctx := context.Background()

	first, err := engine.MarkAttendance(ctx, "s1", "student1", "Ada", "10.0.0.42")
	require.NoError(t, err)
	require.Equal(t, types.StatusPresent, first.Status)

	again, err := engine.MarkAttendance(ctx, "s1", "student1", "Ada Lovelace", "172.16.0.9")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, types.StatusPresent, again.Status)
	assert.Equal(t, "Ada", again.StudentName)
	assert.Equal(t, "10.0.0.42", again.StudentIP)
	assert.Equal(t, 1, dbManager.recordCount())
	assert.Len(t, publisher.snapshot(), 1, "re-join must not publish")
}

func TestEngine_MarkAttendanceConcurrentSamePair(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)
	ctx := context.Background()

	const attempts = 25
	ids := make([]string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := engine.MarkAttendance(ctx, "s1", "student1", "Ada", "10.0.0.42")
			if assert.NoError(t, err) {
				ids[i] = record.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, dbManager.recordCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 0, engine.pairs.Len())
}

func TestEngine_MarkAttendanceConcurrentDifferentStudents(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.MarkAttendance(ctx, "s1", fmt.Sprintf("student%d", i), "", "10.0.0.42")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, dbManager.recordCount())
}

func TestEngine_MarkAttendanceUnknownSession(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)

	_, err := engine.MarkAttendance(context.Background(), "missing", "student1", "Ada", "10.0.0.42")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 0, dbManager.recordCount())
}

// Late arrivals after the teacher ends the session are refused
func TestEngine_MarkAttendanceClosedSession(t *testing.T) {
	engine, dbManager, publisher := setupEngine(t)
	dbManager.addSession("ended", "10.0.0.5", false)

	_, err := engine.MarkAttendance(context.Background(), "ended", "student1", "Ada", "10.0.0.42")
	assert.ErrorIs(t, err, types.ErrSessionClosed)
	assert.Equal(t, types.ErrSessionClosed, types.KindOf(err))
	assert.Equal(t, 0, dbManager.recordCount())
	assert.Empty(t, publisher.snapshot())
}

func TestEngine_MarkAttendanceValidation(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.MarkAttendance(ctx, "", "student1", "Ada", "10.0.0.42")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = engine.MarkAttendance(ctx, "s1", "  ", "Ada", "10.0.0.42")
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.Equal(t, 0, dbManager.recordCount())
}

func TestEngine_MarkAttendanceStoreFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockDatabaseManager)
	}{
		{"session lookup", func(m *mockDatabaseManager) { m.shouldFailGet = true }},
		{"existing lookup", func(m *mockDatabaseManager) { m.shouldFailFind = true }},
		{"insert", func(m *mockDatabaseManager) { m.shouldFailCreate = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, dbManager, publisher := setupEngine(t)
			tt.setup(dbManager)

			_, err := engine.MarkAttendance(context.Background(), "s1", "student1", "Ada", "10.0.0.42")
			assert.ErrorIs(t, err, types.ErrStore)
			assert.Empty(t, publisher.snapshot())
		})
	}
}

func TestEngine_UpdateStatus(t *testing.T) {
	engine, _, publisher := setupEngine(t)
	ctx := context.Background()

	record, err := engine.MarkAttendance(ctx, "s1", "student1", "Ada", "10.0.1.42")
	require.NoError(t, err)
	require.Equal(t, types.StatusAbsent, record.Status)

	for _, status := range []types.AttendanceStatus{types.StatusPresent, types.StatusLate, types.StatusAbsent, types.StatusLate} {
		updated, err := engine.UpdateStatus(ctx, record.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
		assert.Equal(t, record.ID, updated.ID)
	}

	events := publisher.snapshot()
	require.Len(t, events, 5)
	assert.Equal(t, types.EventAttendanceUpdated, events[4].Type)
	assert.Equal(t, types.StatusLate, events[4].Record.Status)
}

func TestEngine_UpdateStatusIdempotent(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)
	ctx := context.Background()

	record, err := engine.MarkAttendance(ctx, "s1", "student1", "Ada", "10.0.0.42")
	require.NoError(t, err)

	once, err := engine.UpdateStatus(ctx, record.ID, types.StatusLate)
	require.NoError(t, err)
	twice, err := engine.UpdateStatus(ctx, record.ID, types.StatusLate)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, dbManager.recordCount())
}

func TestEngine_UpdateStatusErrors(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.UpdateStatus(ctx, "missing", types.StatusPresent)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = engine.UpdateStatus(ctx, "", types.StatusPresent)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = engine.UpdateStatus(ctx, "any", "EXCUSED")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = engine.UpdateStatus(ctx, "any", "present")
	assert.ErrorIs(t, err, types.ErrValidation, "statuses are case sensitive")
}

func TestEngine_ListForSessionAndStudent(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)
	dbManager.addSession("s2", "192.168.1.1", true)
	ctx := context.Background()

	_, err := engine.MarkAttendance(ctx, "s1", "student1", "Ada", "10.0.0.42")
	require.NoError(t, err)
	_, err = engine.MarkAttendance(ctx, "s1", "student2", "Grace", "10.0.0.43")
	require.NoError(t, err)
	_, err = engine.MarkAttendance(ctx, "s2", "student1", "Ada", "192.168.1.7")
	require.NoError(t, err)

	roster, err := engine.ListForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "student2", roster[0].StudentID)

	history, err := engine.ListForStudent(ctx, "student1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "s2", history[0].SessionID)

	empty, err := engine.ListForSession(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = engine.ListForSession(ctx, "")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = engine.ListForStudent(ctx, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	dbManager.shouldFailList = true
	_, err = engine.ListForSession(ctx, "s1")
	assert.ErrorIs(t, err, types.ErrStore)
	_, err = engine.ListForStudent(ctx, "student1")
	assert.ErrorIs(t, err, types.ErrStore)
}

func TestEngine_AggregateStatusCounts(t *testing.T) {
	engine, dbManager, _ := setupEngine(t)
	ctx := context.Background()

	counts, err := engine.AggregateStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCounts{types.StatusPresent: 0, types.StatusAbsent: 0, types.StatusLate: 0}, counts)

	_, err = engine.MarkAttendance(ctx, "s1", "a", "", "10.0.0.1")
	require.NoError(t, err)
	_, err = engine.MarkAttendance(ctx, "s1", "b", "", "10.0.0.2")
	require.NoError(t, err)
	late, err := engine.MarkAttendance(ctx, "s1", "c", "", "10.9.9.9")
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, late.ID, types.StatusLate)
	require.NoError(t, err)

	counts, err = engine.AggregateStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.StatusPresent])
	assert.Equal(t, 0, counts[types.StatusAbsent])
	assert.Equal(t, 1, counts[types.StatusLate])

	dbManager.shouldFailCount = true
	_, err = engine.AggregateStatusCounts(ctx)
	assert.ErrorIs(t, err, types.ErrStore)
}
