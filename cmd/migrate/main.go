package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"medseen/internal/repository/sqlite"
)

func main() {
	dbPath := flag.String("db", filepath.Join("data", "medseen.db"), "Database path")
	force := flag.Int("force", -1, "Force the schema to this version (recovery from a dirty migration)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if *force >= 0 {
		if err := db.MigrateForce(*force); err != nil {
			log.Fatalf("❌ %v", err)
		}
		fmt.Printf("✅ Schema forced to version %d\n", *force)
		return
	}

	switch command {
	case "up":
		err = db.MigrateUp()
	case "down":
		err = db.MigrateDown()
	case "version":
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("❌ Migration %s failed: %v", command, err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		log.Fatalf("❌ Reading schema version: %v", err)
	}
	fmt.Printf("📊 %s: schema version %d", *dbPath, version)
	if dirty {
		fmt.Printf(" (dirty, run with -force)")
	}
	fmt.Println()
}
