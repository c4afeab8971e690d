package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/httpapi"
	"sparrowvision.org/internal/invite"
	"sparrowvision.org/internal/notify"
	"sparrowvision.org/internal/obs"
	"sparrowvision.org/internal/store/pg"
	"sparrowvision.org/internal/stream"
	"sparrowvision.org/internal/webhook"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()

	// Optional durable store; the in-memory directory stays authoritative.
	var store *pg.Store
	if dsn := os.Getenv("SPARROWVISION_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
	}

	var dirOpts []directory.Option
	if store != nil {
		dirOpts = append(dirOpts, directory.WithStore(store))
	}
	dir := directory.New(dirOpts...)
	if store != nil {
		if err := dir.Load(ctx); err != nil {
			log.Fatalf("load directory: %v", err)
		}
	}

	// First boot: make sure someone can administer the tenant.
	if adminEmail := os.Getenv("SPARROWVISION_ADMIN_EMAIL"); adminEmail != "" {
		if _, err := dir.Bootstrap(ctx, adminEmail, os.Getenv("SPARROWVISION_ADMIN_NAME")); err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
	}

	var hookOpts []webhook.ManagerOption
	if store != nil {
		hookOpts = append(hookOpts, webhook.WithConfigStore(store))
	}
	if secret := os.Getenv("SPARROWVISION_WEBHOOK_SECRET"); secret != "" {
		hookOpts = append(hookOpts, webhook.WithSigningSecret(secret))
	}
	hooks := webhook.NewManager(hookOpts...)
	if store != nil {
		if err := hooks.Load(ctx); err != nil {
			log.Fatalf("load webhook config: %v", err)
		}
	}
	if rawURL := os.Getenv("SPARROWVISION_WEBHOOK_URL"); rawURL != "" {
		if _, err := hooks.SetEndpoint(ctx, rawURL); err != nil {
			log.Fatalf("webhook endpoint: %v", err)
		}
	}

	events := stream.New()
	dispatcher := notify.NewDispatcher()
	dispatcher.Subscribe(events)
	dispatcher.Subscribe(notify.LogChannel{})

	workflow := invite.NewWorkflow(dir, dispatcher, hooks)

	var probe httpapi.ReadyProbe
	if store != nil {
		probe.DB = store.DB()
	}
	api := httpapi.New(probe, version, dir, workflow, hooks, events)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sparrowvision-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	hooks.Wait()
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
