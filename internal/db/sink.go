package db

import (
	"context"
	"time"

	"github.com/banshee-data/mmwave/internal/mmwave/pipeline"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

// SessionSink writes pipeline results to one session.
type SessionSink struct {
	db      *DB
	session *Session
	timeout time.Duration
	failLog monitoring.EveryN
}

var _ pipeline.Sink = (*SessionSink)(nil)

// NewSessionSink starts a session and returns a sink recording into it.
func NewSessionSink(db *DB, source, profileText string) (*SessionSink, error) {
	s, err := db.StartSession(source, profileText, time.Time{})
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[db] started session %s (%s)", s.ID, source)
	return &SessionSink{db: db, session: s, timeout: 2 * time.Second, failLog: monitoring.EveryN{N: 100}}, nil
}

// Session returns the session being recorded.
func (s *SessionSink) Session() *Session { return s.session }

// OnFrame records the frame. Failures are logged and do not stop the
// pipeline.
func (s *SessionSink) OnFrame(r pipeline.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.db.RecordResult(ctx, s.session.ID, r); err != nil {
		s.failLog.Logf("[db] failed to record frame: %v", err)
	}
}

// Close ends the session.
func (s *SessionSink) Close() error {
	return s.db.EndSession(s.session.ID, time.Now())
}
