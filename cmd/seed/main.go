package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tommyeight8/wms-prod/internal/config"
	"github.com/tommyeight8/wms-prod/internal/security"
	"github.com/tommyeight8/wms-prod/internal/storage"
)

type seedUser struct {
	email    string
	name     string
	password string
	role     storage.Role
}

var seedUsers = []seedUser{
	{email: "admin@wms.local", name: "Warehouse Admin", password: "admin12345", role: storage.RoleSuperAdmin},
	{email: "manager@wms.local", name: "Floor Manager", password: "manager12345", role: storage.RoleManager},
	{email: "picker@wms.local", name: "Picker One", password: "picker12345", role: storage.RoleStaff},
}

func main() {
	env := getEnv("WMS_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: WMS_ENV must be 'dev' or 'test' (got %q)", env)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding users...")
	for _, u := range seedUsers {
		hash, err := security.HashPassword(u.password)
		if err != nil {
			log.Fatalf("hash password for %s: %v", u.email, err)
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO users (email, name, password_hash, role, active)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (email) DO NOTHING
		`, u.email, u.name, hash, u.role)
		if err != nil {
			log.Fatalf("seed user %s: %v", u.email, err)
		}
		fmt.Printf("✓ %s (%s)\n", u.email, u.role)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
