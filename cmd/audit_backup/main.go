package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/casinoscope/casinoscopecom/internal/audit"
	"github.com/casinoscope/casinoscopecom/internal/config"
	"github.com/casinoscope/casinoscopecom/internal/db"
	"gopkg.in/natefinch/lumberjack.v2"
)

// audit events google drive backup cmd

func main() {
	credentialsFile := flag.String(
		"gd-creds",
		"./casinoscope-drive-credentials.json",
		"google drive service account credentials json",
	)
	shareWithEmail := flag.String(
		"share-with",
		"",
		"email address to share the backup files with",
	)
	env := flag.String("env", "production", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	logsPath := flag.String("logs-path", "/var/log/casinoscope-backend/audit-backup.log", "logs file path (empty for stdout)")

	flag.Parse()

	loggingSetup(*logsPath)

	log.Println("starting audit events backup ...")

	if *credentialsFile == "" {
		log.Fatalln("google drive credentials json not specified")
	}

	credentialsFileBytes, err := os.ReadFile(*credentialsFile)
	if err != nil {
		log.Fatalf("unable to read client secret file: %v", err)
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}

	ctx := context.Background()
	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		TracingEnabled: false,
	})
	if err != nil {
		log.Fatalf("new db pool: %s", err)
	}
	defer dbPool.Close()

	repo := audit.NewRepo(dbPool)

	eventsCount, err := repo.EventsCount(ctx)
	if err != nil {
		log.Fatalf("get audit events count: %s", err)
	}
	log.Printf("security event table holds %d events", eventsCount)

	s, err := audit.NewGoogleDriveBackupService(
		ctx,
		credentialsFileBytes,
		*shareWithEmail,
		repo,
	)
	if err != nil {
		log.Fatalf("failed to create google drive backup service: %s", err)
	}

	if err := s.DoBackup(ctx, time.Now()); err != nil {
		log.Fatalf("%+v", err)
	}

	log.Println("audit events backup done")
}

func loggingSetup(logFileName string) {
	if logFileName == "" {
		log.SetOutput(os.Stdout)
		return
	}

	if !strings.HasSuffix(logFileName, ".log") {
		logFileName += ".log"
	}

	log.SetOutput(&lumberjack.Logger{
		Filename:  logFileName,
		MaxSize:   50,    // megabytes
		LocalTime: false, // false -> use UTC
		Compress:  true,  // disabled by default
	})
}
