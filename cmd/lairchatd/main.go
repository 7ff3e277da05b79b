// Command lairchatd runs the lair-chat server: the TCP listener, the HTTP
// API and WebSocket listener, and the in-memory store wired through the
// shared engine and event bus (§6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/config"
	"github.com/berrym/lair-chat/internal/dispatch"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/httpapi"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/ratelimit"
	"github.com/berrym/lair-chat/internal/store/memstore"
	"github.com/berrym/lair-chat/internal/tcpserver"
)

// Exit codes (§6): 0 normal shutdown, 1 configuration error, 2 port bind
// failure.
const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:   "lairchatd",
		Short: "lair-chat server",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the lair-chat TCP and HTTP listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(cmd, v, configPath)
		},
	}

	serve.Flags().String("host", "", "bind host for the TCP and HTTP listeners")
	serve.Flags().Int("port", 0, "TCP port for the wire protocol listener")
	serve.Flags().Int("http-port", 0, "HTTP port for the REST/WebSocket listener")
	serve.Flags().String("tls-cert", "", "TLS certificate path for the HTTP listener")
	serve.Flags().String("tls-key", "", "TLS key path for the HTTP listener")
	serve.Flags().Int("max-connections", 0, "maximum concurrent TCP connections")
	serve.Flags().Bool("disable-encryption", false, "disable the optional TCP key exchange")
	serve.Flags().Bool("dev", false, "use a human-readable development logger instead of the production JSON logger")
	serve.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")

	_ = v.BindPFlag("host", serve.Flags().Lookup("host"))
	_ = v.BindPFlag("port", serve.Flags().Lookup("port"))
	_ = v.BindPFlag("http_port", serve.Flags().Lookup("http-port"))
	_ = v.BindPFlag("tls_cert", serve.Flags().Lookup("tls-cert"))
	_ = v.BindPFlag("tls_key", serve.Flags().Lookup("tls-key"))
	_ = v.BindPFlag("max_connections", serve.Flags().Lookup("max-connections"))
	_ = v.BindPFlag("disable_encryption", serve.Flags().Lookup("disable-encryption"))
	_ = v.BindPFlag("dev", serve.Flags().Lookup("dev"))

	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		if ce, ok := err.(*configError); ok {
			fmt.Fprintln(os.Stderr, ce.Error())
			return exitConfigError
		}
		if be, ok := err.(*bindError); ok {
			fmt.Fprintln(os.Stderr, be.Error())
			return exitBindFailure
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return exitOK
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type bindError struct{ err error }

func (e *bindError) Error() string { return e.err.Error() }
func (e *bindError) Unwrap() error { return e.err }

func serveCmd(cmd *cobra.Command, v *viper.Viper, configPath string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return &configError{err}
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = os.Getenv("LAIR_CHAT_TOKEN_SECRET")
	}
	if err := cfg.Validate(); err != nil {
		return &configError{err}
	}

	var log *zap.Logger
	if cfg.Dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return &configError{err}
	}
	defer log.Sync()

	reg := metrics.New(nil)

	st := memstore.New()
	repos := st.Repositories()

	hasher := auth.NewPasswordHasher()
	tokens := auth.NewTokenService([]byte(cfg.TokenSecret))
	b := bus.New(log)
	b.SetMetrics(reg)
	eng := engine.New(repos, b, hasher, tokens, log, engine.WithSessionTTL(cfg.SessionTTL))
	disp := dispatch.New(eng, log)
	disp.SetMetrics(reg)
	limiters := ratelimit.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tcpAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort)

	tcp := tcpserver.New(eng, disp, b, repos, limiters, log,
		tcpserver.WithEncryptionRequired(!cfg.DisableEncryption),
		tcpserver.WithMaxConnections(cfg.MaxConnections),
		tcpserver.WithMetrics(reg))

	api := httpapi.New(eng, disp, b, repos, limiters, log, reg)
	httpSrv := &http.Server{Addr: httpAddr, Handler: api.Handler()}

	errCh := make(chan error, 2)

	go func() {
		if err := tcp.ListenAndServe(ctx, tcpAddr); err != nil {
			errCh <- &bindError{fmt.Errorf("tcp listener: %w", err)}
		}
	}()

	go func() {
		var err error
		if cfg.TLSEnabled() {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- &bindError{fmt.Errorf("http listener: %w", err)}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		cancel()
		_ = httpSrv.Close()
		return err
	}

	cancel()
	_ = httpSrv.Close()
	return nil
}
