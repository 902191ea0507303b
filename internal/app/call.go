package app

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/hitoshi/remi/internal/callclient"
)

// callConfig はcallサブコマンドの設定。
type callConfig struct {
	APIURL            string
	SessionToken      string
	UserID            string
	RoomName          string
	AgentName         string
	AgentInstructions string
}

// callConfigFromEnv は環境変数からcallサブコマンドの設定を読み込む。
func callConfigFromEnv() callConfig {
	apiURL := os.Getenv("REMI_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	userID := os.Getenv("REMI_USER_ID")
	if userID == "" {
		userID = "cli"
	}
	return callConfig{
		APIURL:            apiURL,
		SessionToken:      os.Getenv("REMI_SESSION_TOKEN"),
		UserID:            userID,
		RoomName:          os.Getenv("REMI_ROOM_NAME"),
		AgentName:         os.Getenv("REMI_AGENT_NAME"),
		AgentInstructions: os.Getenv("REMI_AGENT_INSTRUCTIONS"),
	}
}

// runCall は1回の音声通話を開始し、切断されるかctxがキャンセルされるまで待つ。
func runCall(ctx context.Context, cfg callConfig) error {
	return runCallWith(ctx, cfg, callclient.NewRoomConnector())
}

func runCallWith(ctx context.Context, cfg callConfig, connector callclient.Connector) error {
	if cfg.SessionToken == "" {
		return errors.New("REMI_SESSION_TOKEN is required")
	}

	ended := make(chan struct{}, 1)
	client := callclient.New(callclient.Config{
		APIURL:       cfg.APIURL,
		SessionToken: cfg.SessionToken,
		Connector:    connector,
		OnStateChange: func(from, to callclient.State) {
			slog.Info("call state changed",
				slog.String("from", string(from)),
				slog.String("to", string(to)),
			)
			if to == callclient.StateEnded {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		},
	})

	if err := client.Start(ctx, callclient.StartOptions{
		UserID:            cfg.UserID,
		RoomName:          cfg.RoomName,
		AgentName:         cfg.AgentName,
		AgentInstructions: cfg.AgentInstructions,
	}); err != nil {
		return err
	}

	select {
	case <-ended:
	case <-ctx.Done():
		if err := client.Hangup(); err != nil && !errors.Is(err, callclient.ErrInvalidTransition) {
			return err
		}
	}

	for _, entry := range client.Transcript() {
		slog.Info("transcript",
			slog.String("speaker", entry.Speaker),
			slog.String("text", entry.Text),
		)
	}

	return client.Err()
}
