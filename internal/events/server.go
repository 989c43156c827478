package events

import (
	"bufio"
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
)

// Server accepts TCP line clients for the hub. Anything a client sends is
// read and ignored.
type Server struct {
	Addr   string
	Hub    *Hub
	Logger *zap.Logger
}

func NewServer(addr string, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Hub: hub, Logger: logger}
}

// Run listens on Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Logger.Info("event stream listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Logger.Warn("accept", zap.Error(err))
			continue
		}

		if !s.Hub.Add(conn) {
			continue
		}
		s.Logger.Debug("tcp client connected", zap.String("remote", conn.RemoteAddr().String()))

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				s.Logger.Debug("tcp client disconnected", zap.String("remote", c.RemoteAddr().String()))
			}()

			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}
