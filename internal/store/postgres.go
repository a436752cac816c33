package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database, verifies connectivity and creates
// missing tables.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &Postgres{pool: pool}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_pwd TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			created_time TIMESTAMPTZ NOT NULL,
			lvl INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			img_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created_time ON reports(created_time DESC)`,
		`CREATE TABLE IF NOT EXISTS bad_reports (
			id SERIAL PRIMARY KEY,
			report_id INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS shelters (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			info TEXT NOT NULL DEFAULT '',
			recent_good INTEGER NOT NULL DEFAULT 0,
			recent_bad INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_shelters (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			info TEXT NOT NULL DEFAULT '',
			evidence TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) ReportsWithin(ctx context.Context, window time.Duration) ([]Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, user_pwd, latitude, longitude, created_time, lvl, description, img_path
		 FROM reports WHERE created_time > $1`,
		time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserPwd, &r.Latitude, &r.Longitude,
			&r.CreatedTime, &r.Lvl, &r.Description, &r.ImgPath); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *Postgres) Report(ctx context.Context, id int32) (Report, error) {
	var r Report
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, user_pwd, latitude, longitude, created_time, lvl, description, img_path
		 FROM reports WHERE id = $1`, id).
		Scan(&r.ID, &r.UserID, &r.UserPwd, &r.Latitude, &r.Longitude,
			&r.CreatedTime, &r.Lvl, &r.Description, &r.ImgPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	return r, err
}

func (s *Postgres) InsertReport(ctx context.Context, r NewReport) (int32, error) {
	var id int32
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reports (user_id, user_pwd, latitude, longitude, created_time, lvl, description, img_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		r.UserID, r.UserPwd, r.Latitude, r.Longitude, r.CreatedTime, r.Lvl, r.Description, r.ImgPath).
		Scan(&id)
	return id, err
}

func (s *Postgres) DeleteReport(ctx context.Context, id int32) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) InsertBadReport(ctx context.Context, reportID int32, reason string) (int32, error) {
	var id int32
	err := s.pool.QueryRow(ctx,
		`INSERT INTO bad_reports (report_id, reason) VALUES ($1, $2) RETURNING id`,
		reportID, reason).
		Scan(&id)
	return id, err
}

func (s *Postgres) BadReports(ctx context.Context) ([]BadReport, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, report_id, reason FROM bad_reports`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []BadReport
	for rows.Next() {
		var r BadReport
		if err := rows.Scan(&r.ID, &r.ReportID, &r.Reason); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *Postgres) DeleteBadReport(ctx context.Context, id int32) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bad_reports WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Shelters(ctx context.Context) ([]Shelter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, latitude, longitude, info, recent_good, recent_bad FROM shelters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shelters []Shelter
	for rows.Next() {
		var sh Shelter
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.Latitude, &sh.Longitude,
			&sh.Info, &sh.RecentGood, &sh.RecentBad); err != nil {
			return nil, err
		}
		shelters = append(shelters, sh)
	}
	return shelters, rows.Err()
}

func (s *Postgres) InsertShelter(ctx context.Context, sh NewShelter) (int32, error) {
	var id int32
	err := s.pool.QueryRow(ctx,
		`INSERT INTO shelters (name, latitude, longitude, info, recent_good, recent_bad)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		sh.Name, sh.Latitude, sh.Longitude, sh.Info, sh.RecentGood, sh.RecentBad).
		Scan(&id)
	return id, err
}

func (s *Postgres) DeleteShelter(ctx context.Context, id int32) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shelters WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) UpdateShelterScore(ctx context.Context, id, good, bad int32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE shelters SET recent_good = $2, recent_bad = $3 WHERE id = $1`,
		id, good, bad)
	return err
}

func (s *Postgres) InsertUserShelter(ctx context.Context, sh NewUserShelter) (int32, error) {
	var id int32
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_shelters (name, latitude, longitude, info, evidence)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sh.Name, sh.Latitude, sh.Longitude, sh.Info, sh.Evidence).
		Scan(&id)
	return id, err
}

func (s *Postgres) UserShelters(ctx context.Context) ([]UserShelter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, latitude, longitude, info, evidence FROM user_shelters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shelters []UserShelter
	for rows.Next() {
		var sh UserShelter
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.Latitude, &sh.Longitude, &sh.Info, &sh.Evidence); err != nil {
			return nil, err
		}
		shelters = append(shelters, sh)
	}
	return shelters, rows.Err()
}

func (s *Postgres) DeleteUserShelter(ctx context.Context, id int32) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_shelters WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
