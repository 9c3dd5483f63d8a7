package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/actuate"
	"github.com/banshee-data/rover/internal/selftest"
)

// Prediction is one classified frame.
type Prediction struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	FrameSeq  uint64        `json:"frame_seq"`
	Label     int           `json:"label"`
	Score     float64       `json:"score"`
	Features  []float64     `json:"features"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// RecordPrediction inserts p and sets its ID.
func (db *DB) RecordPrediction(p *Prediction) error {
	feats, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	res, err := db.Exec(
		`INSERT INTO predictions (
			session_id, frame_seq, label, score, features_json, elapsed_ns, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, int64(p.FrameSeq), p.Label, p.Score, string(feats), int64(p.Elapsed), p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// RecentPredictions returns up to limit predictions, newest first.
func (db *DB) RecentPredictions(limit int) ([]Prediction, error) {
	rows, err := db.Query(
		`SELECT prediction_id, session_id, frame_seq, label, score, features_json, elapsed_ns, created_unix_nanos
		FROM predictions ORDER BY prediction_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Prediction{}
	for rows.Next() {
		var p Prediction
		var seq, elapsed, created int64
		var feats string
		if err := rows.Scan(&p.ID, &p.SessionID, &seq, &p.Label, &p.Score, &feats, &elapsed, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feats), &p.Features); err != nil {
			return nil, fmt.Errorf("prediction %d: bad features: %w", p.ID, err)
		}
		p.FrameSeq = uint64(seq)
		p.Elapsed = time.Duration(elapsed)
		p.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// MotorAction is one command the actuation controller applied.
type MotorAction struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Command   string         `json:"command"`
	Output    actuate.Output `json:"output"`
	Wheels    actuate.Wheels `json:"wheels"`
	CreatedAt time.Time      `json:"created_at"`
}

// RecordMotorAction inserts a and sets its ID.
func (db *DB) RecordMotorAction(a *MotorAction) error {
	res, err := db.Exec(
		`INSERT INTO motor_actions (
			session_id, command, action, speed, left_duty, right_duty, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.Command, a.Output.Action.String(), a.Output.Speed,
		a.Wheels.Left, a.Wheels.Right, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert motor action: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// RecentMotorActions returns up to limit actions, newest first.
func (db *DB) RecentMotorActions(limit int) ([]MotorAction, error) {
	rows, err := db.Query(
		`SELECT action_id, session_id, command, action, speed, left_duty, right_duty, created_unix_nanos
		FROM motor_actions ORDER BY action_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MotorAction{}
	for rows.Next() {
		var a MotorAction
		var action string
		var created int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Command, &action, &a.Output.Speed,
			&a.Wheels.Left, &a.Wheels.Right, &created); err != nil {
			return nil, err
		}
		if a.Output.Action, err = actuate.ParseAction(action); err != nil {
			return nil, fmt.Errorf("motor action %d: %w", a.ID, err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// SelftestRun is the stored summary of a self-test report.
type SelftestRun struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Elapsed   time.Duration    `json:"elapsed_ns"`
	Passed    bool             `json:"passed"`
	Checks    int              `json:"checks"`
	Failed    int              `json:"failed"`
	RMSEMean  float64          `json:"rmse_mean"`
	RMSEMax   float64          `json:"rmse_max"`
	Report    *selftest.Report `json:"report,omitempty"`
}

// RecordSelftest stores r.
func (db *DB) RecordSelftest(r *selftest.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO selftest_runs (
			run_id, started_unix_nanos, elapsed_ns, passed, checks, failed, rmse_mean, rmse_max, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.StartedAt.UnixNano(), int64(r.Elapsed), r.Passed,
		len(r.Checks), len(r.Failed()), r.RoundTrip.Mean, r.RoundTrip.Max, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert selftest run: %w", err)
	}
	return nil
}

const selftestColumns = `run_id, started_unix_nanos, elapsed_ns, passed, checks, failed, rmse_mean, rmse_max, report_json`

type scanner interface {
	Scan(dest ...any) error
}

func scanSelftest(s scanner, withReport bool) (SelftestRun, error) {
	var run SelftestRun
	var started, elapsed int64
	var report string
	if err := s.Scan(&run.RunID, &started, &elapsed, &run.Passed, &run.Checks, &run.Failed,
		&run.RMSEMean, &run.RMSEMax, &report); err != nil {
		return run, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.Elapsed = time.Duration(elapsed)
	if withReport {
		run.Report = &selftest.Report{}
		if err := json.Unmarshal([]byte(report), run.Report); err != nil {
			return run, fmt.Errorf("selftest run %s: bad report: %w", run.RunID, err)
		}
	}
	return run, nil
}

// SelftestRuns returns up to limit run summaries, newest first, without
// the full reports.
func (db *DB) SelftestRuns(limit int) ([]SelftestRun, error) {
	rows, err := db.Query(
		`SELECT `+selftestColumns+` FROM selftest_runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SelftestRun{}
	for rows.Next() {
		run, err := scanSelftest(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetSelftestRun returns the run with its full report. ok is false when no
// such run exists.
func (db *DB) GetSelftestRun(id string) (run SelftestRun, ok bool, err error) {
	row := db.QueryRow(`SELECT `+selftestColumns+` FROM selftest_runs WHERE run_id = ?`, id)
	run, err = scanSelftest(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return SelftestRun{}, false, nil
	}
	if err != nil {
		return SelftestRun{}, false, err
	}
	return run, true, nil
}
