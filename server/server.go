package server

import (
	"fancoil2mqtt/fancoil"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Unit is a controllable fan-coil as exposed over HTTP
type Unit interface {
	Name() string
	State() fancoil.DeviceState
	SetTargetTemperature(t float64) error
	SetHvacMode(mode string) error
	SetFanMode(mode string) error
}

type Config struct {
	Port    uint
	HttpLog bool
	Units   []Unit
	Metrics http.Handler
	Health  func() error // nil means always healthy
	Logger  *zap.Logger
}

type Server struct {
	port    uint
	httpLog bool
	units   map[string]Unit
	names   []string
	metrics http.Handler
	health  func() error
	logger  *zap.Logger
}

func newServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		port:    cfg.Port,
		httpLog: cfg.HttpLog,
		units:   make(map[string]Unit, len(cfg.Units)),
		metrics: cfg.Metrics,
		health:  cfg.Health,
		logger:  logger.Named("http"),
	}
	for _, u := range cfg.Units {
		s.units[u.Name()] = u
		s.names = append(s.names, u.Name())
	}
	return s
}

func NewServer(cfg *Config) *http.Server {
	s := newServer(cfg)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
