// Command immuxd is the server binary: it opens one store and serves it
// over both the HTTP and TCP/gRPC surfaces described in §6, wired through
// a single shared Executor the way the original server.rs binds one
// KeyValueStore to two listeners.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ledgerwatch/immuxdb/config"
	"github.com/ledgerwatch/immuxdb/executor"
	"github.com/ledgerwatch/immuxdb/httpfront"
	"github.com/ledgerwatch/immuxdb/storeengine"
	"github.com/ledgerwatch/immuxdb/tcpfront"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	dataDir    string
	eccMode    string
	httpPort   uint16
	tcpPort    uint16
	maxKeySize string
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "immuxd",
	Short: "Serve an immux store over HTTP and TCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "store directory (defaults to config.Default())")
	rootCmd.Flags().StringVar(&eccMode, "ecc-mode", "", "Identity|TMR")
	rootCmd.Flags().Uint16Var(&httpPort, "http-port", 0, "HTTP listen port (defaults to config.DefaultHTTPPort)")
	rootCmd.Flags().Uint16Var(&tcpPort, "tcp-port", 0, "TCP/gRPC listen port (defaults to config.DefaultTCPPort)")
	rootCmd.Flags().StringVar(&maxKeySize, "max-key-size", "", "ceiling on a single key's length, e.g. 8KB")
}

func run(ctx context.Context) error {
	prefs, err := resolvePreferences()
	if err != nil {
		return err
	}
	if err := config.Save(prefs); err != nil {
		return err
	}

	engine, err := storeengine.Open(prefs.LogDir, prefs.ECCMode)
	if err != nil {
		return fmt.Errorf("immuxd: open store: %w", err)
	}
	defer engine.Close()

	engineSrv := storeengine.NewServer(engine)
	x := executor.New(engineSrv, prefs.MaxKeySize)
	logger := log.New("module", "immuxd")

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", prefs.HTTPPort),
		Handler: httpfront.New(x).Handler(),
	}
	tcpSrv := tcpfront.New(x)
	tcpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", prefs.TCPPort))
	if err != nil {
		return fmt.Errorf("immuxd: listen tcp: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := engineSrv.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("http surface listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("tcp surface listening", "addr", tcpLis.Addr())
		return tcpSrv.Serve(tcpLis)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		tcpSrv.Stop()
		return httpSrv.Shutdown(context.Background())
	})

	return group.Wait()
}

func resolvePreferences() (config.Preferences, error) {
	base := config.Default()
	if dataDir != "" {
		base.LogDir = dataDir
	}
	prefs, err := config.Load(base.LogDir)
	if err != nil {
		return config.Preferences{}, err
	}
	return config.ApplyFlags(prefs, config.Flags{
		DataDir:    dataDir,
		ECCMode:    eccMode,
		HTTPPort:   httpPort,
		TCPPort:    tcpPort,
		MaxKeySize: maxKeySize,
	})
}
