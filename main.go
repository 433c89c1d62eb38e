package main

import (
	"fmt"
	"log"
	"os"

	"github.com/oneinbox/mailsync/config"
	"github.com/oneinbox/mailsync/internal/database"
	"github.com/oneinbox/mailsync/internal/repository"
	"github.com/oneinbox/mailsync/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mailsync <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}

	switch os.Args[1] {
	case "migrate":
		if err := repository.MigrateDB(db); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		log.Println("Database migration completed successfully")

	case "server":
		srv, err := server.NewServer(cfg, db)
		if err != nil {
			log.Fatalf("Server setup failed: %v", err)
		}
		if err := srv.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
