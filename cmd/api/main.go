package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project"
	projectrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/realtime"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task"
	taskrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "path to a YAML config file (overrides TASKBOARD_CONFIG)")
	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-taskboard-go")

	// init db
	dbCfg := database.ConfigFromEnv()
	db, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	sugar.Infow("database connected", "driver", dbCfg.Driver)

	users := userrepo.NewUserRepo(db)
	projects := projectrepo.NewProjectRepo(db)
	tasks := taskrepo.NewTaskRepo(db)

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	for _, ensure := range []func(context.Context) error{users.EnsureTable, projects.EnsureTable, tasks.EnsureTable} {
		if err := ensure(setupCtx); err != nil {
			cancelSetup()
			sugar.Fatalf("ensure tables: %v", err)
		}
	}
	cancelSetup()

	tokens := auth.NewTokenService(cfg.SecretKey, cfg.AccessTTL, cfg.RefreshTTL)
	gateway := realtime.NewGateway(tokens, realtime.OptionsFromConfig(cfg), sugar.Named("realtime"))
	composer := notification.NewComposer(tasks, projects, gateway, sugar.Named("notification"))

	userSvc := user.NewUserService(db, users, nil)
	projectSvc := project.NewProjectService(projects, users, composer)
	taskSvc := task.NewTaskService(tasks, projects, users, composer)

	handler := router.RegisterRoutes(router.Deps{
		Logger:         sugar,
		Tokens:         tokens,
		Users:          user.NewHandler(userSvc, tokens, sugar),
		Projects:       project.NewHandler(projectSvc, sugar),
		Tasks:          task.NewHandler(taskSvc, sugar),
		Scheduler:      notification.NewHandler(composer, cfg.SchedulerToken, sugar),
		Gateway:        gateway,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.Addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// shutdown http server; hijacked websocket connections are not tracked by it
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	composer.Wait()
	if err := gateway.Shutdown(doneCtx); err != nil {
		sugar.Warnf("realtime shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
