// Package store persists reports, bad reports, shelters and user-submitted
// shelters. The only backend is Postgres via pgx; the Store interface exists
// so the report and shelter subsystems can be tested against a fake.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Report is a user-contributed fire report.
type Report struct {
	ID          int32
	UserID      string
	UserPwd     string
	Latitude    float64
	Longitude   float64
	CreatedTime time.Time
	Lvl         int32
	Description string
	ImgPath     string
}

// NewReport holds the fields of a report to insert.
type NewReport struct {
	UserID      string
	UserPwd     string
	Latitude    float64
	Longitude   float64
	CreatedTime time.Time
	Lvl         int32
	Description string
	ImgPath     string
}

// BadReport is a complaint filed against a report.
type BadReport struct {
	ID       int32
	ReportID int32
	Reason   string
}

// Shelter is an evacuation shelter row.
type Shelter struct {
	ID         int32
	Name       string
	Latitude   float64
	Longitude  float64
	Info       string
	RecentGood int32
	RecentBad  int32
}

// NewShelter holds the fields of a shelter to insert.
type NewShelter struct {
	Name       string
	Latitude   float64
	Longitude  float64
	Info       string
	RecentGood int32
	RecentBad  int32
}

// UserShelter is a user-submitted shelter pending admin review.
type UserShelter struct {
	ID        int32
	Name      string
	Latitude  float64
	Longitude float64
	Info      string
	Evidence  string
}

// NewUserShelter holds the fields of a user shelter to insert.
type NewUserShelter struct {
	Name      string
	Latitude  float64
	Longitude float64
	Info      string
	Evidence  string
}

// Store is the persistence surface used by the report and shelter
// subsystems. All calls are safe for concurrent use.
type Store interface {
	ReportsWithin(ctx context.Context, window time.Duration) ([]Report, error)
	Report(ctx context.Context, id int32) (Report, error)
	InsertReport(ctx context.Context, r NewReport) (int32, error)
	DeleteReport(ctx context.Context, id int32) (int64, error)

	InsertBadReport(ctx context.Context, reportID int32, reason string) (int32, error)
	BadReports(ctx context.Context) ([]BadReport, error)
	DeleteBadReport(ctx context.Context, id int32) (int64, error)

	Shelters(ctx context.Context) ([]Shelter, error)
	InsertShelter(ctx context.Context, s NewShelter) (int32, error)
	DeleteShelter(ctx context.Context, id int32) (int64, error)
	UpdateShelterScore(ctx context.Context, id, good, bad int32) error

	InsertUserShelter(ctx context.Context, s NewUserShelter) (int32, error)
	UserShelters(ctx context.Context) ([]UserShelter, error)
	DeleteUserShelter(ctx context.Context, id int32) (int64, error)

	Close()
}
