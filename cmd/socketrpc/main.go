// Command socketrpc runs the greeting service, or talks to it.
//
//	socketrpc --service            serve on --socket until interrupted
//	socketrpc --send Ada           send one name and print the reply
//	socketrpc                      read names from stdin, one call per line
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"socketrpc/client"
	"socketrpc/codec"
	"socketrpc/config"
	"socketrpc/interactive"
	"socketrpc/loadbalance"
	"socketrpc/logging"
	"socketrpc/middleware"
	"socketrpc/registry"
	"socketrpc/server"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// stopTimeout bounds how long the service waits for connections to drain.
const stopTimeout = 5 * time.Second

type cliFlags struct {
	socket     string
	service    bool
	send       string
	configPath string
	trace      bool
	etcd       string
	name       string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("socketrpc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f cliFlags
	fs.StringVar(&f.socket, "socket", config.DefaultAddress, "socket path or host:port")
	fs.BoolVar(&f.service, "service", false, "run the service")
	fs.StringVar(&f.send, "send", "", "send one request and print the result")
	fs.StringVar(&f.configPath, "config", "", "TOML config file")
	fs.BoolVar(&f.trace, "trace", false, "include stack traces in error responses")
	fs.StringVar(&f.etcd, "etcd", "", "comma separated etcd endpoints for discovery")
	fs.StringVar(&f.name, "name", "", "service name in the registry")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(fs, f)
	if err != nil {
		fmt.Fprintf(stderr, "socketrpc: %v\n", err)
		return 2
	}
	if err := logging.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(stderr, "socketrpc: %v\n", err)
		return 2
	}
	defer logging.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case f.service:
		err = serve(ctx, cfg)
	case f.send != "":
		err = sendOnce(ctx, cfg, f.send, stdout, stderr)
	default:
		err = repl(ctx, cfg, stdin, stdout)
	}
	if err != nil {
		log.WithField("error", err).Error("socketrpc failed")
		return 1
	}
	return 0
}

// loadConfig layers the flags that were set explicitly over the config file.
func loadConfig(fs *flag.FlagSet, f cliFlags) (*config.Config, error) {
	wd, err := os.Getwd()
	if err == nil {
		if err := config.LoadDotEnv(wd); err != nil {
			log.WithField("error", err).Warn("failed to load .env file")
		}
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "socket":
			cfg.Service.Address = f.socket
		case "trace":
			cfg.Service.Trace = f.trace
		case "etcd":
			cfg.Registry.Endpoints = strings.Split(f.etcd, ",")
		case "name":
			cfg.Registry.Name = f.name
		}
	})
	return cfg, nil
}

func newRegistry(cfg *config.Config) (*registry.EtcdRegistry, error) {
	if !cfg.Discovery() {
		return nil, nil
	}
	return registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout)
}

func serve(ctx context.Context, cfg *config.Config) error {
	opts := []server.Option{
		server.WithID(cfg.Service.ID),
		server.WithTrace(cfg.Service.Trace),
		server.WithMaxFrameSize(cfg.Service.MaxFrameSize),
		server.WithMiddleware(middleware.LoggingMiddleware()),
	}
	if cfg.Service.RateLimit > 0 {
		opts = append(opts, server.WithMiddleware(middleware.RateLimitMiddleware(cfg.Service.RateLimit, cfg.Service.RateBurst)))
	}
	if cfg.Service.HandlerTimeout > 0 {
		opts = append(opts, server.WithMiddleware(middleware.TimeOutMiddleware(cfg.Service.HandlerTimeout)))
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
		opts = append(opts,
			server.WithRegistry(reg, cfg.Registry.Name, cfg.Registry.Advertise, cfg.Registry.TTL),
			server.WithInstanceMeta(cfg.Registry.Weight, cfg.Registry.Version))
	}

	svc, err := server.Start(context.Background(), cfg.Service.Address, greet, opts...)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		svc.Stop(server.ReasonShutdown)
	case <-svc.WhenStopped():
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return svc.Wait(waitCtx)
}

func clientOptions(cfg *config.Config) []client.Option {
	return []client.Option{
		client.WithCallTimeout(cfg.Client.CallTimeout),
		client.WithHeartbeat(cfg.Client.Heartbeat),
		client.WithCloseTimeout(cfg.Client.CloseTimeout),
	}
}

// resolve returns the address to dial: the configured one, or one picked from
// the registry when discovery is on.
func resolve(ctx context.Context, cfg *config.Config) (string, error) {
	reg, err := newRegistry(cfg)
	if err != nil || reg == nil {
		return cfg.Service.Address, err
	}
	defer reg.Close()

	host, _ := os.Hostname()
	return client.Discover(ctx, reg, loadbalance.New(cfg.Registry.Balancer), cfg.Registry.Name, host)
}

func sendOnce(ctx context.Context, cfg *config.Config, text string, stdout, stderr io.Writer) error {
	address, err := resolve(ctx, cfg)
	if err != nil {
		return err
	}

	body, ok, err := client.Send(ctx, address, text, clientOptions(cfg)...)
	if !ok {
		return errors.Errorf("no result from %s", address)
	}
	var re *codec.RemoteError
	if errors.As(err, &re) {
		fmt.Fprintf(stderr, "%s: %s\n", re.Kind, re.Message)
		if len(re.Details) > 0 {
			fmt.Fprintf(stderr, "details: %s\n", re.Details)
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, interactive.Render(body))
	return nil
}

func repl(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	address, err := resolve(ctx, cfg)
	if err != nil {
		return err
	}

	src := interactive.NewScannerSource(stdin, stdout)
	defer src.Close()
	ok, err := interactive.Run(ctx, address, src, stdout,
		interactive.WithPrompt(cfg.Client.Prompt),
		interactive.WithClientOptions(clientOptions(cfg)...))
	if !ok {
		return errors.Errorf("no connection to %s", address)
	}
	return err
}
