package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medops/hospital-reservations/internal/db"
)

var departments = []string{
	"CARDIO",
	"NEURO",
	"ORTHO",
	"PEDS",
	"ONCO",
	"ER",
	"GENMED",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedCapacity(context.Background(), pool); err != nil {
		log.Fatalf("seed capacity: %v", err)
	}
	if err := seedSlots(context.Background(), pool, 40, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedCapacity(ctx context.Context, pool *pgxpool.Pool) error {
	log.Printf("seeding capacity for %d departments", len(departments))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, dept := range departments {
		beds := gofakeit.Number(5, 60)
		_, err := tx.Exec(ctx, `
			INSERT INTO department_capacity (dept_code, total_beds, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (dept_code) DO UPDATE
			SET total_beds = EXCLUDED.total_beds,
			    updated_at = now()
		`, dept, beds)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctors, days int) error {
	log.Printf("seeding slots for %d doctors over %d days", doctors, days)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	modes := []string{"IN_PERSON", "TELEVISIT"}

	for i := 0; i < doctors; i++ {
		doctorID := uuid.New()
		dept := departments[gofakeit.Number(0, len(departments)-1)]

		for d := 0; d < days; d++ {
			day := time.Now().AddDate(0, 0, d+1).Truncate(24 * time.Hour)
			// Eight half-hour slots per working day
			for h := 0; h < 8; h++ {
				start := day.Add(time.Duration(9)*time.Hour + time.Duration(h*30)*time.Minute)
				end := start.Add(30 * time.Minute)
				mode := modes[gofakeit.Number(0, 1)]

				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, doctor_id, department_code, mode, start_at, end_at, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, 'AVAILABLE', now(), now())
				`, uuid.New(), doctorID, dept, mode, start, end)
				if err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit(ctx)
}
