package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBadSelector is returned when a job selector is missing or ambiguous.
var ErrBadSelector = errors.New("exactly one of job id, channel id or all-errors must be set")

// UpsertJob creates or re-arms the sync job for a channel. An existing job is
// reset to pending with the new target and floor; calling it repeatedly is a
// safe idempotent re-arm.
func (db *DB) UpsertJob(channelID int64, targetCount int64, minDate int64) (*Job, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO jobs (channel_id, status, target_count, min_date, created_at, updated_at)
		VALUES (?, 'pending', ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			status = 'pending',
			target_count = excluded.target_count,
			min_date = excluded.min_date,
			error = '',
			updated_at = excluded.updated_at`,
		channelID, targetCount, minDate, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert job: %w", err)
	}
	return db.GetJob(channelID)
}

// GetJob returns the job for a channel, or nil when none exists.
func (db *DB) GetJob(channelID int64) (*Job, error) {
	row := db.QueryRow(`
		SELECT job_id, channel_id, status, target_count, message_count,
			cursor_msg_id, cursor_msg_date, min_date, error, created_at, updated_at
		FROM jobs WHERE channel_id = ?`, channelID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	err := row.Scan(&j.JobID, &j.ChannelID, &j.Status, &j.TargetCount, &j.MessageCount,
		&j.CursorMsgID, &j.CursorMsgDate, &j.MinDate, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// NextJob returns the oldest-updated job in pending or in_progress state,
// or nil when the queue is drained. in_progress rows are included so a job
// interrupted by a crash is picked up again rather than skipped.
func (db *DB) NextJob() (*Job, error) {
	row := db.QueryRow(`
		SELECT job_id, channel_id, status, target_count, message_count,
			cursor_msg_id, cursor_msg_date, min_date, error, created_at, updated_at
		FROM jobs WHERE status IN ('pending', 'in_progress')
		ORDER BY updated_at ASC LIMIT 1`)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// SetJobStatus moves a job to the given status, recording an error message
// for the error status and clearing it otherwise.
func (db *DB) SetJobStatus(jobID int64, status, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		status, errMsg, now, jobID)
	return err
}

// SetJobCursor persists the resume cursor so interrupted backfills pick up
// where they left off after a restart.
func (db *DB) SetJobCursor(jobID, msgID, msgDate int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE jobs SET cursor_msg_id = ?, cursor_msg_date = ?, updated_at = ? WHERE job_id = ?`,
		msgID, msgDate, now, jobID)
	return err
}

// SetJobProgress records the running archived-message count for a job.
func (db *DB) SetJobProgress(jobID, messageCount int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE jobs SET message_count = ?, updated_at = ? WHERE job_id = ?`,
		messageCount, now, jobID)
	return err
}

// JobFilter narrows ListJobs output.
type JobFilter struct {
	Status    string
	ChannelID int64
	Limit     int
}

// ListJobs returns jobs joined with channel display data, newest update first.
func (db *DB) ListJobs(f JobFilter) ([]JobView, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `
		SELECT j.job_id, j.channel_id, j.status, j.target_count, j.message_count,
			j.cursor_msg_id, j.cursor_msg_date, j.min_date, j.error, j.created_at, j.updated_at,
			COALESCE(c.title, ''), COALESCE(c.username, '')
		FROM jobs j
		LEFT JOIN channels c ON c.channel_id = j.channel_id
		WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND j.status = ?`
		args = append(args, f.Status)
	}
	if f.ChannelID != 0 {
		q += ` AND j.channel_id = ?`
		args = append(args, f.ChannelID)
	}
	q += ` ORDER BY j.updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []JobView
	for rows.Next() {
		var v JobView
		if err := rows.Scan(&v.JobID, &v.ChannelID, &v.Status, &v.TargetCount, &v.MessageCount,
			&v.CursorMsgID, &v.CursorMsgDate, &v.MinDate, &v.Error, &v.CreatedAt, &v.UpdatedAt,
			&v.ChannelTitle, &v.Username); err != nil {
			return nil, err
		}
		jobs = append(jobs, v)
	}
	return jobs, rows.Err()
}

// RetrySelector picks which error jobs to re-arm. Exactly one field may be set.
type RetrySelector struct {
	JobID     int64
	ChannelID int64
	AllErrors bool
}

// RetryJobs clears the error and resets matching jobs to pending. Returns the
// number of jobs re-armed; zero when nothing matches is not an error.
func (db *DB) RetryJobs(sel RetrySelector) (int64, error) {
	set := 0
	if sel.JobID != 0 {
		set++
	}
	if sel.ChannelID != 0 {
		set++
	}
	if sel.AllErrors {
		set++
	}
	if set != 1 {
		return 0, ErrBadSelector
	}

	now := time.Now().UnixMilli()
	q := `UPDATE jobs SET status = 'pending', error = '', updated_at = ?`
	var args []any
	args = append(args, now)
	switch {
	case sel.JobID != 0:
		q += ` WHERE job_id = ?`
		args = append(args, sel.JobID)
	case sel.ChannelID != 0:
		q += ` WHERE channel_id = ?`
		args = append(args, sel.ChannelID)
	case sel.AllErrors:
		q += ` WHERE status = 'error'`
	}

	res, err := db.Exec(q, args...)
	if err != nil {
		return 0, fmt.Errorf("retry jobs: %w", err)
	}
	return res.RowsAffected()
}

// CancelSelector picks which jobs to delete. Exactly one field may be set.
type CancelSelector struct {
	JobID     int64
	ChannelID int64
}

// CancelJobs deletes matching job rows. Archived messages are untouched.
func (db *DB) CancelJobs(sel CancelSelector) (int64, error) {
	if (sel.JobID != 0) == (sel.ChannelID != 0) {
		return 0, ErrBadSelector
	}

	var res sql.Result
	var err error
	if sel.JobID != 0 {
		res, err = db.Exec(`DELETE FROM jobs WHERE job_id = ?`, sel.JobID)
	} else {
		res, err = db.Exec(`DELETE FROM jobs WHERE channel_id = ?`, sel.ChannelID)
	}
	if err != nil {
		return 0, fmt.Errorf("cancel jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobQueueStats returns per-status job counts plus archive totals.
func (db *DB) JobQueueStats() (*QueueStats, error) {
	stats := &QueueStats{JobsByStatus: make(map[string]int64)}

	rows, err := db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.JobsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Channels, err = db.ChannelCount(); err != nil {
		return nil, err
	}
	if stats.Messages, err = db.MessageCount(); err != nil {
		return nil, err
	}
	return stats, nil
}
