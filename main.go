package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"oneiro/internal/api"
	"oneiro/internal/config"
	"oneiro/internal/controller"
	"oneiro/internal/gateway"
	"oneiro/internal/interpreter"
	"oneiro/internal/server"
	"oneiro/internal/store"
	"oneiro/internal/voice"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("ONEIRO_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	stateStore, db, err := openStateStore(cfg)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	router := gin.Default()

	baseURL := cfg.Gateway.BaseURL
	if cfg.BasicConfig.ServeBackend {
		backendDB := db
		if backendDB == nil {
			dbType := storeDriver(cfg)
			backendDB, err = store.OpenSQL(dbType, cfg)
			if err != nil {
				log.Fatalf("open backend database: %v", err)
			}
			defer backendDB.Close()
		}
		if err := server.Migrate(backendDB, storeDriver(cfg)); err != nil {
			log.Fatalf("migrate backend database: %v", err)
		}

		provider := cfg.BasicConfig.Provider
		if provider == "" {
			provider = "openai"
		}
		llm, err := interpreter.NewService(provider, cfg)
		if err != nil {
			log.Fatalf("init interpreter: %v", err)
		}
		backend := server.NewHandler(server.NewStorage(backendDB), llm, cfg.Payment)
		backend.RegisterRoutes(router)

		if baseURL == "" {
			// The client loops back to the backend mounted above.
			baseURL = "http://127.0.0.1" + addr
		}
	}

	recognizer, synthesizer := voice.Engines(cfg.Voice)
	ctrl := controller.New(controller.Options{
		Gateway:        gateway.NewClient(baseURL, time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second),
		Store:          stateStore,
		Capture:        voice.NewCapture(recognizer),
		Playback:       voice.NewPlayback(synthesizer),
		StatusInterval: time.Duration(cfg.StatusInterval()) * time.Second,
		InvoiceAmount:  cfg.Payment.DefaultAmount,
		OpenLink: func(url string) {
			log.Printf("payment link ready: %s", url)
		},
	})
	defer ctrl.Close()

	identity, err := controller.LoadIdentity(context.Background(), stateStore)
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}
	if err := ctrl.Initialize(context.Background(), identity); err != nil {
		log.Fatalf("initialize session: %v", err)
	}

	handlers := api.NewHandler(ctrl, stateStore)
	handlers.RegisterRoutes(router)

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func storeDriver(cfg *config.Config) string {
	driver := strings.ToLower(cfg.BasicConfig.StateStore)
	if driver == "" || driver == "redis" || driver == "memory" {
		driver = "sqlite3"
	}
	return driver
}

// openStateStore picks the persistence for client state. The sql variants
// also return the database handle so the embedded backend can share it.
func openStateStore(cfg *config.Config) (store.Store, *sql.DB, error) {
	switch strings.ToLower(cfg.BasicConfig.StateStore) {
	case "", "sqlite", "sqlite3", "mysql":
		dbType := storeDriver(cfg)
		db, err := store.OpenSQL(dbType, cfg)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewSQL(db, dbType)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db, nil
	case "redis":
		st, err := store.NewRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case "memory":
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported state store: %s", cfg.BasicConfig.StateStore)
	}
}
