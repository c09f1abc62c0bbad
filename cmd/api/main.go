package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gigflow/auth"
	"gigflow/chat"
	"gigflow/db"
	"gigflow/event"
	"gigflow/httpapi"
	"gigflow/job"
	"gigflow/order"
	"gigflow/review"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	connString := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	bus := event.NewBus()

	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	jobService := job.NewService(pool, bus)
	orderService := order.NewService(pool, bus)
	chatService := chat.NewService(pool, bus)
	reviewService := review.NewService(pool, nil, bus)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	server := httpapi.NewServer(authService, jobService, orderService, chatService, reviewService, bus)
	server.Routes(e)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
