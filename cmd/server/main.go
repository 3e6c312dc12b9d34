package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/crestview/admissions-crm/internal/api"
	"github.com/crestview/admissions-crm/internal/auth"
	"github.com/crestview/admissions-crm/internal/automation"
	"github.com/crestview/admissions-crm/internal/config"
	"github.com/crestview/admissions-crm/internal/reference"
	"github.com/crestview/admissions-crm/internal/segment"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Admissions CRM server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("MONGO_URI") != "" {
		log.Println("[config] MONGO_URI env override active")
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Document store
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout())
	defer connectCancel()
	mongoClient, err := mongo.Connect(connectCtx, mongoopts.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf("Failed to connect to document store: %v", err)
	}
	db := mongoClient.Database(cfg.Mongo.Database)
	log.Printf("[store] connected to %s/%s", cfg.Mongo.URI, cfg.Mongo.Database)

	// Redis: reference cache + share tokens
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("[redis] ping failed (continuing, cache degrades to loader): %v", err)
	}

	// Core wiring
	store := segment.NewStore(db)
	states := reference.NewStateCache(rdb, store)
	evaluator := automation.NewEvaluator(db)
	tokens := auth.NewShareTokens(rdb, cfg.Share.TokenTTL())
	engine := segment.NewEngine(store, states, evaluator, tokens, cfg.Share.BaseURL)

	segmentsAPI := api.NewSegmentsAPI(engine, tokens)
	health := api.NewHealthChecker(mongoClient, rdb)
	router := api.SetupRoutes(segmentsAPI, health)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Printf("Store disconnect error: %v", err)
	}
	log.Println("Server stopped")
}
