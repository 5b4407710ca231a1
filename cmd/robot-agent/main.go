// Command robot-agent runs a standalone robot worker process: it claims
// jobs directly against the durable claim store and optionally dials the
// orchestrator's WebSocket wire protocol for wake-up pushes and to send job
// acknowledgements (spec.md §4.5/§6). Control commands arriving over that
// connection are not interpreted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/config"
	"github.com/yungbote/rpa-orchestrator/internal/db"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/realtime"
	"github.com/yungbote/rpa-orchestrator/internal/robotagent"
	"github.com/yungbote/rpa-orchestrator/internal/wire/ws"
)

func main() {
	cfg, err := config.LoadRobot()
	if err != nil {
		fmt.Printf("failed to load robot config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(cfg.PostgresURL, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	store := claimstore.New(pg.DB(), log)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("failed to automigrate claim store", "error", err)
	}

	bus := realtime.NewInProcessBus()

	reg := robotagent.NewRegistry()
	if err := reg.Register("*", robotagent.NewNoopExecutor()); err != nil {
		log.Fatal("failed to register default executor", "error", err)
	}

	agent := robotagent.New(cfg, log, store, bus, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ControlPlaneURL != "" {
		go runWireClient(ctx, cfg, log, bus, agent)
	}

	log.Info("robot agent starting", "robot_id", cfg.RobotID)
	if err := agent.Run(ctx); err != nil {
		log.Error("robot agent exited with error", "error", err)
		os.Exit(1)
	}
}

// runWireClient dials the orchestrator's WebSocket endpoint, republishes
// every received message, whatever its type, as an empty jobs hint on the
// local in-process bus so the agent's claim loop wakes promptly (message
// contents are not decoded), and attaches the live connection
// to agent so it can push job_progress/job_complete/job_failed/job_cancelled
// acknowledgements back — all without making the wire channel authoritative
// over the durable claim store.
func runWireClient(ctx context.Context, cfg *config.Robot, log *logger.Logger, bus realtime.Bus, agent *robotagent.Agent) {
	header := http.Header{}
	header.Set("X-Robot-Id", cfg.RobotID)
	header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := ws.NewClient(ws.ClientConfig{
		URL:                 cfg.ControlPlaneURL,
		Header:              header,
		ReconnectDelay:      cfg.ReconnectDelay,
		ReconnectMultiplier: cfg.ReconnectMultiplier,
		MaxReconnectDelay:   cfg.MaxReconnectDelay,
	}, log)

	client.Run(ctx, func(ctx context.Context, conn *ws.Conn) {
		agent.SetWireConn(conn)
		defer agent.SetWireConn(nil)
		for range conn.Inbox {
			hint, err := realtime.NewJobsHintMessage(realtime.JobsHint{})
			if err == nil {
				_ = bus.Publish(ctx, hint)
			}
		}
	})
}
