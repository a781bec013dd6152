package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mmwave/internal/mmwave/l4perception"
	"github.com/banshee-data/mmwave/internal/mmwave/l5tracks"
	"github.com/banshee-data/mmwave/internal/mmwave/pipeline"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one run of the sensor.
type Session struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Source    string     `json:"source"`
	Profile   string     `json:"-"`
	Frames    int64      `json:"frames"`
}

// TrackPoint is one frame of a track's history.
type TrackPoint struct {
	FrameNumber uint32     `json:"frame_number"`
	ReceivedAt  time.Time  `json:"received_at"`
	Status      string     `json:"status"`
	Position    [3]float32 `json:"position"`
	Velocity    [3]float32 `json:"velocity"`
	Hits        uint32     `json:"hits"`
	Age         uint32     `json:"age"`
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}

// StartSession creates a session with a new ID. A zero startedAt means now.
func (db *DB) StartSession(source, profileText string, startedAt time.Time) (*Session, error) {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	s := &Session{
		ID:        uuid.New().String(),
		StartedAt: startedAt,
		Source:    source,
		Profile:   profileText,
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, source, profile) VALUES (?, ?, ?, ?)`,
		s.ID, unixSeconds(s.StartedAt), s.Source, s.Profile,
	)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string, endedAt time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, unixSeconds(endedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordFrame stores the per-frame summary and returns its row ID.
func (db *DB) RecordFrame(sessionID string, r pipeline.Result) (int64, error) {
	return recordFrame(db.DB, sessionID, r)
}

func recordFrame(ex execer, sessionID string, r pipeline.Result) (int64, error) {
	var frameNumber uint32
	if r.Raw != nil {
		frameNumber = r.Raw.Header.FrameNumber
	}
	numPoints := 0
	if r.Points != nil {
		numPoints = r.Points.Len()
	}
	res, err := ex.Exec(
		`INSERT INTO frames (session_id, frame_number, received_at, num_points, num_clusters, num_tracks, latency_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, frameNumber, unixSeconds(r.ReceivedAt), numPoints, len(r.Clusters), len(r.Tracks),
		r.Latency.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("record frame %d: %w", frameNumber, err)
	}
	return res.LastInsertId()
}

// RecordClusters stores the clusters found in one frame.
func (db *DB) RecordClusters(frameID int64, clusters []l4perception.Cluster) error {
	return recordClusters(db.DB, frameID, clusters)
}

func recordClusters(ex execer, frameID int64, clusters []l4perception.Cluster) error {
	for _, c := range clusters {
		_, err := ex.Exec(
			`INSERT INTO clusters (frame_id, label, x, y, z, size_x, size_y, size_z, velocity, num_points, avg_snr, avg_rcs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			frameID, c.Label, c.Centroid[0], c.Centroid[1], c.Centroid[2],
			c.Size[0], c.Size[1], c.Size[2], c.Velocity, c.NumPoints, c.AvgSNR, c.AvgRCS,
		)
		if err != nil {
			return fmt.Errorf("record cluster %d: %w", c.Label, err)
		}
	}
	return nil
}

// RecordTracks stores the confirmed tracks after one frame.
func (db *DB) RecordTracks(sessionID string, frameID int64, tracks []l5tracks.Track) error {
	return recordTracks(db.DB, sessionID, frameID, tracks)
}

func recordTracks(ex execer, sessionID string, frameID int64, tracks []l5tracks.Track) error {
	for i := range tracks {
		t := &tracks[i]
		p, v := t.Position(), t.Velocity()
		_, err := ex.Exec(
			`INSERT INTO tracks (frame_id, session_id, track_id, status, x, y, z, vx, vy, vz, hits, age)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			frameID, sessionID, int64(t.ID), string(t.Status), p[0], p[1], p[2], v[0], v[1], v[2], t.Hits, t.Age,
		)
		if err != nil {
			return fmt.Errorf("record track %d: %w", t.ID, err)
		}
	}
	return nil
}

// RecordResult stores a frame with its clusters and tracks in one
// transaction.
func (db *DB) RecordResult(ctx context.Context, sessionID string, r pipeline.Result) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	frameID, err := recordFrame(tx, sessionID, r)
	if err != nil {
		return err
	}
	if err := recordClusters(tx, frameID, r.Clusters); err != nil {
		return err
	}
	if err := recordTracks(tx, sessionID, frameID, r.Tracks); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSessions returns up to limit sessions, newest first.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.started_at, s.ended_at, s.source, s.profile,
			(SELECT COUNT(*) FROM frames f WHERE f.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started float64
			ended   sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.Source, &s.Profile, &s.Frames); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnixSeconds(started)
		if ended.Valid {
			t := fromUnixSeconds(ended.Float64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TrackHistory returns every recorded state of one track in frame order.
func (db *DB) TrackHistory(sessionID string, trackID uint64) ([]TrackPoint, error) {
	rows, err := db.Query(`
		SELECT f.frame_number, f.received_at, t.status, t.x, t.y, t.z, t.vx, t.vy, t.vz, t.hits, t.age
		FROM tracks t
		JOIN frames f ON f.frame_id = t.frame_id
		WHERE t.session_id = ? AND t.track_id = ?
		ORDER BY t.frame_id`, sessionID, int64(trackID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []TrackPoint
	for rows.Next() {
		var (
			p        TrackPoint
			received float64
		)
		if err := rows.Scan(&p.FrameNumber, &received, &p.Status,
			&p.Position[0], &p.Position[1], &p.Position[2],
			&p.Velocity[0], &p.Velocity[1], &p.Velocity[2],
			&p.Hits, &p.Age); err != nil {
			return nil, err
		}
		p.ReceivedAt = fromUnixSeconds(received)
		history = append(history, p)
	}
	return history, rows.Err()
}
