package main

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangashell/internal/auth"
	"mangashell/internal/backend"
	"mangashell/internal/events"
	"mangashell/internal/manga"
	"mangashell/internal/rpc/grpcbridge"
	"mangashell/internal/shell"
	"mangashell/pkg/database"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend bridge and the UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		hub := events.NewHub(logger.Named("events"))
		be := backend.New(cfg, db, hub, logger.Named("backend"))
		bridgeLis, err := be.Listen()
		if err != nil {
			return err
		}

		token, err := bridgeToken()
		if err != nil {
			return err
		}
		transport, err := grpcbridge.Dial(cfg.BridgeAddr, token)
		if err != nil {
			return err
		}
		defer transport.Close()

		repo := manga.NewRepo(db)
		sh, err := shell.New(cfg, logger.Named("shell"), transport, hub,
			shell.WithRoutes(func(r *gin.Engine) {
				manga.NewHandler(repo).RegisterRoutes(r.Group("/manga"))
			}))
		if err != nil {
			return err
		}
		defer sh.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return be.ServeListener(gctx, bridgeLis) })
		g.Go(func() error { return sh.Serve(gctx) })

		logger.Info("mangashell started",
			zap.String("ui", "http://"+cfg.UIAddr),
			zap.String("bridge", cfg.BridgeAddr))
		return g.Wait()
	},
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run only the backend bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		return backend.New(cfg, db, nil, logger.Named("backend")).Serve(ctx)
	},
}

func openDB() (*sql.DB, error) {
	dbCfg := database.DefaultConfig(cfg.DBPath)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Debug("snapshot store ready", zap.String("path", dbCfg.Path))
	return db, nil
}

func tokenService() auth.TokenService {
	return auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}
}

func bridgeToken() (string, error) {
	token, _, err := tokenService().Sign(auth.NewSession("shell"))
	if err != nil {
		return "", fmt.Errorf("sign bridge token: %w", err)
	}
	return token, nil
}

