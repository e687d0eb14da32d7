package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/reconciler/internal/config"
	"github.com/ehr/reconciler/internal/domain/observation"
	"github.com/ehr/reconciler/internal/domain/patient"
	"github.com/ehr/reconciler/internal/domain/relationship"
	"github.com/ehr/reconciler/internal/platform/auth"
	"github.com/ehr/reconciler/internal/platform/db"
	"github.com/ehr/reconciler/internal/platform/middleware"
	"github.com/ehr/reconciler/internal/platform/registry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reconciler-server",
		Short: "Patient record reconciliation server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", db.HealthHandler(pool))

	// Configuration-derived mappings
	identifierSystems, err := cfg.IdentifierSystemMap()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid identifier system mapping")
	}
	var defaultLocation *uuid.UUID
	if cfg.DefaultLocationID != "" {
		loc := uuid.MustParse(cfg.DefaultLocationID)
		defaultLocation = &loc
	}
	contactPointType := parseOptionalUUID(cfg.ContactPointAttributeType, "CONTACT_POINT_ATTRIBUTE_TYPE", logger)
	registryIDType := parseOptionalUUID(cfg.RegistryIDAttributeType, "REGISTRY_ID_ATTRIBUTE_TYPE", logger)

	// Repositories
	patientRepo := patient.NewRepoPG(pool)
	relRepo := relationship.NewRepoPG(pool)
	obsRepo := observation.NewRepoPG(pool)
	conceptRepo := observation.NewConceptRepoPG(pool)

	// Collaborators
	translator := patient.NewTranslator(patient.TranslatorConfig{
		ContactPointAttributeType: contactPointType,
		RegistryIDAttributeType:   registryIDType,
		IdentifierSystems:         identifierSystems,
		DefaultLocationID:         defaultLocation,
	}, logger.With().Str("component", "translator").Logger())

	registryClient := registry.NewClient(registry.Config{
		LoginURL:  cfg.RegistryLoginURL,
		LoginBody: cfg.RegistryLoginBody,
		MatchURL:  cfg.RegistryMatchURL,
		FHIRURL:   cfg.RegistryFHIRURL,
		Timeout:   cfg.RegistryTimeout,
		TokenTTL:  cfg.RegistryTokenTTL,
	}, logger.With().Str("component", "registry").Logger())

	deathSync := observation.NewDeathSynchronizer(obsRepo, conceptRepo, observation.SyncConfig{
		CauseOfDeathConcept:  cfg.CauseOfDeathConcept,
		NoneConcept:          cfg.NoneConcept,
		OtherNonCodedConcept: cfg.OtherNonCodedConcept,
	}, logger.With().Str("component", "deathsync").Logger())

	resolver := relationship.NewResolver(relRepo, patientRepo,
		logger.With().Str("component", "relationships").Logger())

	svc := patient.NewService(
		patientRepo,
		translator,
		registryClient,
		registryClient,
		deathSync,
		resolver,
		relRepo,
		cfg.RelationshipCodes,
		cfg.ShowRelationships,
		logger.With().Str("component", "patient").Logger(),
	)

	apiV1 := e.Group("/api/v1")
	patient.NewHandler(svc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// parseOptionalUUID parses an attribute-type setting, warning instead of
// failing when absent so the dependent feature degrades to a no-op.
func parseOptionalUUID(s, name string, logger zerolog.Logger) uuid.UUID {
	if s == "" {
		logger.Warn().Str("setting", name).Msg("attribute type not configured")
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		logger.Fatal().Err(err).Str("setting", name).Msg("invalid attribute type UUID")
	}
	return id
}
