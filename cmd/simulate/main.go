package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medops/hospital-reservations/internal/config"
	"github.com/medops/hospital-reservations/internal/db"
)

// simulate hammers the booking endpoint with deliberately colliding slot IDs
// and then checks in the database that no slot ended up with more than one
// active appointment.

type counters struct {
	booked    atomic.Int64
	conflicts atomic.Int64
	errors    atomic.Int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	baseURL := getEnv("SIM_BASE_URL", "http://127.0.0.1:"+cfg.HTTPPort)
	workers := getIntEnv("SIM_WORKERS", 32)
	attempts := getIntEnv("SIM_ATTEMPTS", 500)
	slotPool := getIntEnv("SIM_SLOT_POOL", 50)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	slots, err := loadAvailableSlots(ctx, pool, slotPool)
	if err != nil {
		log.Fatalf("load slots: %v", err)
	}
	if len(slots) == 0 {
		log.Fatal("no AVAILABLE slots, run cmd/seed first")
	}
	log.Printf("simulating %d booking attempts across %d slots with %d workers", attempts, len(slots), workers)

	token, err := adminToken(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}

	var c counters
	var wg sync.WaitGroup
	work := make(chan uuid.UUID)

	client := &http.Client{Timeout: 10 * time.Second}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slotID := range work {
				book(ctx, client, baseURL, token, slotID, &c)
			}
		}()
	}

	start := time.Now()
	for i := 0; i < attempts; i++ {
		work <- slots[rand.Intn(len(slots))]
	}
	close(work)
	wg.Wait()

	log.Printf("done in %s: booked=%d conflicts=%d errors=%d",
		time.Since(start), c.booked.Load(), c.conflicts.Load(), c.errors.Load())

	doubles, err := countDoubleBookings(ctx, pool)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if doubles > 0 {
		log.Fatalf("INVARIANT VIOLATED: %d slots have more than one active appointment", doubles)
	}
	log.Println("verified: no slot has more than one active appointment")
}

func book(ctx context.Context, client *http.Client, baseURL, token string, slotID uuid.UUID, c *counters) {
	body, _ := json.Marshal(map[string]string{
		"slot_id":    slotID.String(),
		"patient_id": uuid.NewString(),
		"reason":     "load test",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		c.errors.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		c.errors.Add(1)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.booked.Add(1)
	case http.StatusConflict:
		c.conflicts.Add(1)
	default:
		c.errors.Add(1)
	}
}

func loadAvailableSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM slots WHERE status = 'AVAILABLE' ORDER BY start_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM appointments
			WHERE status <> 'CANCELLED'
			GROUP BY slot_id
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func adminToken(secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  "simulate",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid int for %s=%q, using default %d\n", key, v, def)
	}
	return def
}
