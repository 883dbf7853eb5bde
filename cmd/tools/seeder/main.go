package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedBookings(db)

	log.Println("Seeding completed successfully!")
}

func seedBookings(db *sql.DB) {
	// Fixed user ids so API tokens minted with these subjects hit real data.
	bookings := []struct {
		ID          string
		UserID      string
		Amount      int64
		PlatformFee int64
		ServiceType string
		StartIn     time.Duration
	}{
		{"11111111-1111-4111-8111-111111111111", "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa", 450, 50, "pooling", 72 * time.Hour},
		{"22222222-2222-4222-8222-222222222222", "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa", 270, 30, "pooling", 18 * time.Hour},
		{"33333333-3333-4333-8333-333333333333", "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb", 2700, 300, "rental", 96 * time.Hour},
		{"44444444-4444-4444-8444-444444444444", "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb", 1800, 200, "rental", 30 * time.Hour},
		{"55555555-5555-4555-8555-555555555555", "cccccccc-cccc-4ccc-8ccc-cccccccccccc", 90, 10, "pooling", 6 * time.Hour},
	}

	fmt.Println("Seeding Bookings...")
	for _, b := range bookings {
		_, err := db.Exec(`
			INSERT INTO bookings (id, user_id, amount, platform_fee, total_amount, service_type, start_time, payment_status, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'unpaid', 'created')
			ON CONFLICT (id) DO UPDATE SET
				amount = EXCLUDED.amount,
				platform_fee = EXCLUDED.platform_fee,
				total_amount = EXCLUDED.total_amount,
				start_time = EXCLUDED.start_time;
		`, b.ID, b.UserID, b.Amount, b.PlatformFee, b.Amount+b.PlatformFee, b.ServiceType, time.Now().Add(b.StartIn))
		if err != nil {
			log.Printf("Failed to seed booking %s: %v", b.ID, err)
		}
	}
}
