package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sahilchouksey/school-connect/config"
	"github.com/sahilchouksey/school-connect/database"
)

func main() {
	// Load environment variables
	if err := config.LoadENV(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	// Seeding writes through GORM without announcing changes; running servers pick them up on their next read
	store, err := database.StartGORM(nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Run seeds
	separator := strings.Repeat("=", 60)
	fmt.Println(separator)
	fmt.Println("School Connect - Database Seeding")
	fmt.Println(separator)
	fmt.Println()

	if err := database.NewSeeder(store).SeedAll(context.Background()); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	fmt.Println()
	fmt.Println(separator)
	fmt.Println("🎉 Seeding completed successfully!")
	fmt.Println(separator)
	fmt.Println()
	fmt.Println("Demo student: node key node-student-1 (student-1, grade 7/A)")
	fmt.Println("Mint a token with: chatctl token --node-key node-student-1 --student student-1")
	fmt.Println()
}
