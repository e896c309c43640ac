package storage

import (
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"github.com/itsshri/NightSafe/internal/models"
)

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) SaveTrip(t *models.Trip) error {
	driver, err := json.Marshal(t.Driver)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO trips(id, identity, vehicle_id, verified, start_time, status, driver, feedback)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, feedback=EXCLUDED.feedback`,
		t.ID, t.Identity, t.VehicleID, t.Verified, t.StartTime, string(t.Status), driver, t.Feedback)
	return err
}

func (p *PostgresArchive) UpdateTrip(t *models.Trip) error {
	_, err := p.db.Exec(`UPDATE trips SET status=$1, feedback=$2 WHERE id=$3`,
		string(t.Status), t.Feedback, t.ID)
	return err
}

func (p *PostgresArchive) TripsFor(identity string, limit int) ([]models.Trip, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(`SELECT id, identity, vehicle_id, verified, start_time, status, driver, feedback
		FROM trips WHERE identity=$1 ORDER BY start_time DESC LIMIT $2`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		var t models.Trip
		var status string
		var driver []byte
		if err := rows.Scan(&t.ID, &t.Identity, &t.VehicleID, &t.Verified, &t.StartTime, &status, &driver, &t.Feedback); err != nil {
			return nil, err
		}
		t.Status = models.TripStatus(status)
		_ = json.Unmarshal(driver, &t.Driver)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
