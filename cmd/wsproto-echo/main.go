// Package main runs a minimal echo server on top of wsproto: every TEXT or
// BINARY message it receives is written back to the same Session verbatim.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sessionwire/wsproto"
)

type echoHandler struct{}

func (echoHandler) Validate(s *wsproto.Session) error { return nil }

func (echoHandler) OnOpen(s *wsproto.Session) {
	s.SendBinary([]byte("connected"))
}

func (echoHandler) OnClose(s *wsproto.Session) {}

func (echoHandler) OnMessage(s *wsproto.Session, kind wsproto.MessageKind, payload []byte) {
	if kind == wsproto.MessageText {
		s.Send(string(payload))
		return
	}
	s.SendBinary(payload)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	endpoint := wsproto.NewEndpoint(wsproto.RoleServer,
		wsproto.WithLogger(logger),
		wsproto.WithAccessLogger(logger.Named("access")),
		wsproto.WithRateLimit(wsproto.DefaultRateLimitConfig()),
	)

	srv := wsproto.NewServer(wsproto.ServerConfig{
		Addr:     *addr,
		Endpoint: endpoint,
		Handler:  echoHandler{},
	})

	srv.OnAccept(func(s *wsproto.Session) {
		logger.Info("connection accepted", zap.String("session", s.ID))
	})

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	logger.Info("wsproto-echo listening", zap.String("addr", *addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", zap.Error(err))
	}
}
