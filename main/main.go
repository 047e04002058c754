package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/synqronlabs/courier"
	"github.com/synqronlabs/courier/auth"
	"github.com/synqronlabs/courier/mail"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	server, err := courier.New("mail.example.com").
		Addr(courier.BindAddrLocal...).
		Ports(2525).
		Logger(logger).
		ReadTimeout(30 * time.Second).
		MaxMessageSize(10 * 1024 * 1024). // 10MB
		OnSessionStart(func(s *courier.Session) {
			logger.Info("connection", "remote", s.Remote())
		}).
		OnEmailReceived(func(_ context.Context, s *courier.Session, msg *mail.Message, verdict auth.Verdict) error {
			logger.Info("message received",
				"from", msg.Header.Get("From"),
				"id", msg.ID,
				"authenticity", verdict.Authenticity())
			return nil
		}).
		Build()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := server.Serve(ctx); !errors.Is(err, courier.ErrServerClosed) {
		log.Fatal(err)
	}
}
