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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/zenghr0820/gbsip"
	"github.com/zenghr0820/gbsip/callback"
	"github.com/zenghr0820/gbsip/config"
	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/sip"
)

var log = logger.Component("gbsip")

func main() {
	cmd := &cli.Command{
		Name:        "gbsip",
		Usage:       "GB28181 SIP endpoint",
		Description: "Answers OPTIONS, REGISTER and MESSAGE over UDP and TCP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("GBSIP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("GBSIP_CONFIG_BODY"),
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: ".env files loaded before GBSIP_* overrides are applied",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen host",
				Value: "0.0.0.0",
			},
		},
		Action: runService,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Command) (*config.Config, error) {
	if body := c.String("config-body"); body != "" {
		conf, err := config.NewConfig(body)
		if err != nil {
			return nil, err
		}
		return conf, conf.Validate()
	}
	return config.Load(c.String("config"), c.StringSlice("env-file")...)
}

func runService(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	logger.NewLogger(logger.FromConfig(conf.Log)...).Init()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []gbsip.Option{
		gbsip.Config(*conf),
		gbsip.ListenHost(c.String("listen")),
		gbsip.Registerer(reg),
	}
	if conf.Auth.Username != "" {
		opts = append(opts, gbsip.RegisterAuth(map[string]string{conf.Auth.Username: conf.Auth.Password}))
	}
	s, err := gbsip.NewService(opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	ok := func(req *sip.Message, tx callback.ServerTransaction) {
		resp := s.Provider().Factory().Response(req, sip.StatusOK, "", nil)
		if req.IsRegister() {
			if expires, found := req.Expires(); found {
				resp.SetExpires(expires)
			}
		}
		if err := tx.Respond(resp); err != nil {
			log.Errorf("answer %s: %s", req.Short(), err)
		}
	}
	s.Callback().AddRequestHandle(sip.OPTIONS, ok)
	s.Callback().AddRequestHandle(sip.MESSAGE, ok)
	if conf.Auth.Username == "" {
		s.Callback().AddRequestHandle(sip.REGISTER, ok)
	}

	if err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if conf.Metrics.Enabled {
		srv := &http.Server{
			Addr:              conf.Metrics.ListenAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %s", err)
			}
		}()
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
		log.Infof("metrics on %s", conf.Metrics.ListenAddr)
	}

	log.Infof("started, transports %v port %d", conf.SIP.Transports, conf.SIP.HostPort)
	return s.Run(ctx)
}
