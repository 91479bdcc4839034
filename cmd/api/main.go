package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/app"
	"collabrepo/api/internal/blob"
	"collabrepo/api/internal/config"
	"collabrepo/api/internal/logger"
	"collabrepo/api/internal/session"
	"collabrepo/api/internal/store"
	"collabrepo/api/internal/store/memory"
	"collabrepo/api/internal/team"
	"collabrepo/api/internal/wiki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()
	ctx := context.Background()

	var (
		wikiStore wiki.Store
		aclStore  acl.Store
		teamStore team.Store
		ping      func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := store.ApplyMigrations(cfg.DatabaseURL); err != nil {
			zl.Fatal("migrations failed", zap.Error(err))
		}
		wikiStore = store.NewWikiStore(db)
		aclStore = store.NewACLStore(db)
		teamStore = store.NewTeamStore(db)
		ping = db.PingContext
	default:
		zl.Warn("using in-memory stores; data is lost on restart")
		wikiStore = memory.NewWikiStore()
		aclStore = memory.NewACLStore()
		teamStore = memory.NewTeamStore()
	}

	var blobs blob.Store
	switch cfg.BlobDriver {
	case config.DriverMinio:
		minioStore, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			zl.Fatal("blob store connection failed", zap.Error(err))
		}
		blobs = minioStore
	default:
		blobs = blob.NewMemoryStore()
	}

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		zl.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			zl.Fatal("redis connection failed", zap.Error(err))
		}
		sessions = redisStore
	} else {
		zl.Info("using process memory for session storage")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	principals := acl.Principals{
		AdminGroupID:              cfg.AdminGroupID,
		PublicGroupID:             cfg.PublicGroupID,
		AuthenticatedUsersGroupID: cfg.AuthenticatedUsersGroupID,
		AnonymousUserID:           cfg.AnonymousUserID,
	}
	teams := team.NewService(teamStore)
	acls := acl.NewService(aclStore, teams, principals, cfg.MaxHierarchyDepth)
	wikis := wiki.NewService(wikiStore, cfg.MaxHierarchyDepth)

	if err := acls.Bootstrap(ctx, cfg.BootstrapAdminID); err != nil {
		zl.Fatal("bootstrap failed", zap.Error(err))
	}
	if token := strings.TrimSpace(cfg.BootstrapAdminToken); token != "" {
		admin := acl.Principal{ID: cfg.BootstrapAdminID, Groups: []int64{cfg.AdminGroupID}}
		if err := sessions.Save(ctx, token, admin, cfg.SessionTTL()); err != nil {
			zl.Fatal("bootstrap admin session failed", zap.Error(err))
		}
	}

	service := app.NewService(app.Deps{
		Wikis:      wikis,
		ACLs:       acls,
		Teams:      teams,
		Blobs:      blobs,
		Sessions:   sessions,
		Principals: principals,
		SessionTTL:     cfg.SessionTTL(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ping:           ping,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, zl)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("api listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreDriver), zap.String("blobs", cfg.BlobDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
}
