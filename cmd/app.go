package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/chrisdamba/foodagent/internal/coordinator"
	"github.com/chrisdamba/foodagent/internal/journal"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/orders"
	"github.com/chrisdamba/foodagent/internal/payment"
	"github.com/chrisdamba/foodagent/internal/session"
	"github.com/chrisdamba/foodagent/internal/transport"
	"github.com/spf13/viper"
)

// app is the wiring shared by every command invocation.
type app struct {
	cfg        *models.Config
	out        io.Writer
	guard      *session.Guard
	sender     transport.Sender
	controller *orders.Controller
	journal    *journal.Journal
}

func newApp(ctx context.Context, cfg *models.Config, out io.Writer) (*app, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent id is required: set agent_id or --agent-id")
	}

	j, err := journal.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	guard := session.NewGuard(session.NewConfigStore(viper.GetViper(), "auth_token", true))
	guard.OnExpired(func() {
		log.Printf("Session expired for agent %s; sign in again", cfg.AgentID)
		j.Record(models.Event{Type: models.EventSessionExpired, AgentID: cfg.AgentID})
	})

	client := transport.NewClient(cfg.APIBaseURL, guard,
		transport.WithTimeout(cfg.APITimeout),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithDeviceID(cfg.DeviceID),
	)
	sender := guard.Wrap(client)

	controller := orders.NewController(sender, cfg.AgentID,
		orders.WithOTPLength(cfg.OTPLength),
		orders.WithTransitionHook(coordinator.TransitionRecorder(j)),
	)

	return &app{
		cfg:        cfg,
		out:        out,
		guard:      guard,
		sender:     sender,
		controller: controller,
		journal:    j,
	}, nil
}

// open fetches orderID and returns a coordinator for it.
func (a *app) open(ctx context.Context, orderID string) (*coordinator.Coordinator, models.Order, error) {
	o, err := a.controller.FetchDetail(ctx, orderID)
	if err != nil {
		return nil, models.Order{}, err
	}
	newMonitor := func(id string) *payment.Monitor {
		return payment.NewMonitor(a.sender, id,
			payment.WithInterval(a.cfg.PollInterval),
			payment.WithBaseContext(ctx),
		)
	}
	c := coordinator.New(o, a.controller, a.sender, newMonitor, coordinator.WithJournal(a.journal))
	return c, o, nil
}

func (a *app) Close() error {
	err := a.journal.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
