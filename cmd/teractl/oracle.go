package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/tfiber/tera-assist/internal/cascade"
	"github.com/tfiber/tera-assist/internal/config"
	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/locale"
	"github.com/tfiber/tera-assist/internal/oracle"
)

func oracleConfig(cfg *config.Config) oracle.Config {
	return oracle.Config{
		Backend:           cfg.Oracle.Backend,
		GeminiAPIKey:      cfg.Oracle.GeminiAPIKey,
		GeminiModel:       cfg.Oracle.GeminiModel,
		GRPCAddr:          cfg.Oracle.GRPCAddr,
		ConnectTimeout:    cfg.Timeout.HealthCheck,
		ServiceAreasFile:  cfg.Oracle.ServiceAreasFile,
		WatchServiceAreas: cfg.Oracle.WatchServiceAreas,
	}
}

func newAskCommand(cfg *config.Config) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one query through the response cascade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			catalog, err := locale.Load()
			if err != nil {
				return err
			}
			oracles, err := oracle.New(ctx, oracleConfig(cfg), slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = oracles.Close() }()

			arbiter := cascade.NewArbiter(oracles, catalog, cfg.Oracle.Timeout, slog.Default())
			decision, err := arbiter.Respond(ctx, args[0], domain.ParseLanguage(lang))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", decision.Kind, decision.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "en", "query language (en or te)")
	return cmd
}

func newOracleCommand(cfg *config.Config) *cobra.Command {
	oracleCmd := &cobra.Command{
		Use:   "oracle",
		Short: "Oracle backend utilities",
	}

	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-process oracle backend over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			oc := oracleConfig(cfg)
			if oc.Backend == oracle.BackendGRPC {
				return fmt.Errorf("oracle serve cannot proxy the grpc backend; set ORACLE_BACKEND to static or gemini")
			}
			set, err := oracle.New(ctx, oc, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			srv := grpc.NewServer()
			oracle.Register(srv, set)

			go func() {
				<-ctx.Done()
				slog.Info("Stopping oracle server")
				srv.GracefulStop()
			}()

			slog.Info("Oracle server listening", "addr", lis.Addr().String(), "backend", oc.Backend)
			if err := srv.Serve(lis); err != nil {
				return fmt.Errorf("serve oracle: %w", err)
			}
			return nil
		},
	}
	serve.Flags().StringVar(&addr, "addr", ":9090", "listen address")

	oracleCmd.AddCommand(serve)
	return oracleCmd
}
