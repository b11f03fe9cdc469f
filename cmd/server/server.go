package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/wopihost/config"
	"github.com/stephnangue/wopihost/content"
	"github.com/stephnangue/wopihost/discovery"
	wopihttp "github.com/stephnangue/wopihost/http"
	"github.com/stephnangue/wopihost/listener"
	"github.com/stephnangue/wopihost/listener/api"
	log "github.com/stephnangue/wopihost/logger"
	"github.com/stephnangue/wopihost/rights"
	"github.com/stephnangue/wopihost/token"
	"github.com/stephnangue/wopihost/users"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Subsystem names for logging
	subsystemCore     = "core"
	subsystemListener = "listener"
)

var (
	configPath string

	flagDev bool

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts a wopihost server that responds to editor requests",
		Long: `
Usage: wopihost server [options]

  This command starts a wopihost server that responds to WOPI requests.
  Start a server with a configuration file:

      $ wopihost server --config=/etc/wopihost/config.hcl

  For a full list of examples, please see the documentation.
  `,
		RunE: run,
	}

	wg sync.WaitGroup

	cleanupGuard sync.Once

	contentBackends = map[string]contentFactory{
		"file": func(conf map[string]string, logger log.Logger) (content.Store, error) {
			return content.NewFileBackend(conf, logger)
		},
		"inmem": func(conf map[string]string, logger log.Logger) (content.Store, error) {
			return content.NewInmem(), nil
		},
	}
)

type contentFactory func(conf map[string]string, logger log.Logger) (content.Store, error)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/wopihost.hcl)")
	ServerCmd.Flags().BoolVar(&flagDev, "dev", false, "Run with an in-memory store and open access, for development")
}

func run(cmd *cobra.Command, args []string) error {
	var conf *config.Config

	switch {
	case flagDev:
		conf = devConfig()
	case configPath == "":
		return fmt.Errorf("config file path is required. Use -c or --config flag")
	default:
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		var err error
		conf, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// construct the logger with gate closed during initialization
	logger := buildGatedLogger(conf)

	// craft the content store
	store, err := buildContentStore(conf, logger)
	if err != nil {
		return fmt.Errorf("failed to construct the content store: %w", err)
	}

	// craft the capability resolver
	resolver, err := buildRightsResolver(conf)
	if err != nil {
		return fmt.Errorf("failed to construct the rights resolver: %w", err)
	}

	infoKeys := make([]string, 0, 10)
	info := make(map[string]string)
	info["log level"] = conf.LogLevel
	infoKeys = append(infoKeys, "log level")
	info["log file"] = conf.LogFile
	infoKeys = append(infoKeys, "log file")
	info["log format"] = conf.LogFormat
	infoKeys = append(infoKeys, "log format")
	info["storage"] = conf.Storage.Type
	infoKeys = append(infoKeys, "storage")
	info["rights"] = conf.Rights.Type
	infoKeys = append(infoKeys, "rights")
	info["editor server"] = conf.Wopi.ServerURL
	infoKeys = append(infoKeys, "editor server")
	info["editing enabled"] = fmt.Sprintf("%t", conf.Wopi.Enabled)
	infoKeys = append(infoKeys, "editing enabled")

	tokenTimeout, err := conf.Wopi.TokenTimeoutDuration()
	if err != nil {
		return err
	}
	info["token timeout"] = tokenTimeout.String()
	infoKeys = append(infoKeys, "token timeout")

	discoveryTTL, err := conf.Wopi.DiscoveryCacheTTLDuration()
	if err != nil {
		return err
	}

	discoveryClient, err := discovery.NewClient(&discovery.Config{
		ServerURL: func() string { return conf.Wopi.ServerURL },
		CacheTTL:  discoveryTTL,
		Logger:    logger.WithSystem("discovery"),
	})
	if err != nil {
		return fmt.Errorf("failed to construct the discovery client: %w", err)
	}
	defer discoveryClient.Close()

	tokenManager := token.NewManager(&token.ManagerConfig{
		Rights:  resolver,
		Timeout: func() time.Duration { return tokenTimeout },
		Logger:  logger.WithSystem("token"),
	})

	// Create the HTTP handler
	httpHandler := wopihttp.Handler(&wopihttp.HandlerProperties{
		Tokens:            tokenManager,
		Content:           store,
		Discovery:         discoveryClient,
		Users:             buildUsersResolver(conf, resolver),
		Enabled:           conf.Wopi.Enabled,
		URLEncodeTokens:   conf.Wopi.URLEncodeTokens,
		PostMessageOrigin: conf.Wopi.PostMessageOrigin,
		Logger:            logger.WithSystem("http"),
	})

	// init the listeners
	lns, err := initListeners(httpHandler, conf, logger, &infoKeys, info)
	if err != nil {
		return err
	}

	// Shutdown error tracking
	var shutdownErrs []error
	var shutdownErrsMu sync.Mutex

	// Make sure we close all listeners from this point on
	listenerCloseFunc := func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopping all listeners\n")
		for _, ln := range lns {
			if err := ln.Stop(); err != nil {
				shutdownErrsMu.Lock()
				shutdownErrs = append(shutdownErrs, fmt.Errorf("failed to stop %s listener at %s: %w", ln.Type(), ln.Addr(), err))
				shutdownErrsMu.Unlock()
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Listener stopped successfully: type=%s, address=%s\n", ln.Type(), ln.Addr())
			}
		}
	}

	defer cleanupGuard.Do(listenerCloseFunc)

	sort.Strings(infoKeys)
	fmt.Fprintf(cmd.OutOrStdout(), "\n==> wopihost server configuration:\n\n")

	titleCaser := cases.Title(language.English, cases.NoLower)

	for _, k := range infoKeys {
		fmt.Fprintf(cmd.OutOrStdout(), "%24s: %s\n", titleCaser.String(k), info[k])
	}

	// Use context from cobra command which respects signal interrupts
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Channel to collect all listener errors
	errChan := make(chan error, len(lns))
	var listenerErrs []error
	var listenerErrsMu sync.Mutex
	totalListeners := len(lns)

	for _, ln := range lns {
		ln := ln
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ln.Start(ctx); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "failed to start listener: %v\n", err)
				errChan <- err
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n==> wopihost server started! Log data will stream in below:\n")
	logger.OpenGate()

	// Wait for shutdown
	shutdownTriggered := false

	for !shutdownTriggered {
		select {
		case err := <-errChan:
			listenerErrsMu.Lock()
			listenerErrs = append(listenerErrs, err)
			failedCount := len(listenerErrs)
			listenerErrsMu.Unlock()

			fmt.Fprintf(cmd.OutOrStdout(), "Listener error occurred: failed_count=%d, total_listeners=%d\n", failedCount, totalListeners)

			// Only trigger shutdown if ALL listeners have failed
			if failedCount >= totalListeners {
				fmt.Fprintf(cmd.OutOrStdout(), "All listeners have failed, triggering shutdown: failed_count=%d\n", failedCount)
				shutdownTriggered = true
				cancel()
			}
		case <-ctx.Done():
			fmt.Fprintf(cmd.OutOrStdout(), "wopihost shutdown triggered\n")
			shutdownTriggered = true
			cancel()
		}
	}

	// Stop the listeners so that we don't process further editor requests
	cleanupGuard.Do(listenerCloseFunc)

	// Wait for all listener goroutines to finish and collect any remaining errors
	wg.Wait()

	close(errChan)
	for err := range errChan {
		listenerErrsMu.Lock()
		listenerErrs = append(listenerErrs, err)
		listenerErrsMu.Unlock()
	}

	if len(listenerErrs) > 0 {
		aggregatedErr := errors.Join(listenerErrs...)
		fmt.Fprintf(cmd.OutOrStdout(), "Listener errors occurred during runtime: %v, error_count=%d\n", aggregatedErr, len(listenerErrs))
	}

	if len(shutdownErrs) > 0 {
		aggregatedShutdownErr := errors.Join(shutdownErrs...)
		fmt.Fprintf(cmd.OutOrStdout(), "Shutdown completed with errors: %v, error_count=%d\n", aggregatedShutdownErr, len(shutdownErrs))
		return aggregatedShutdownErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server shutdown completed successfully\n")
	return nil
}

func buildGatedLogger(conf *config.Config) *log.GatedLogger {
	logConfig := &log.Config{
		Level:     log.ParseLogLevel(conf.LogLevel),
		Subsystem: subsystemCore,
		FileConfig: &log.FileConfig{
			Filename:   conf.LogFile,
			MaxSize:    conf.LogRotateMegabytes,
			MaxAge:     conf.LogRotationPeriod,
			MaxBackups: conf.LogRotateMaxFiles,
		},
		Format:  log.ParseOutputFormat(conf.LogFormat),
		Outputs: []io.Writer{os.Stdout},
	}

	gateConfig := log.GatedWriterConfig{
		Underlying:    os.Stdout,
		InitialState:  log.GateClosed,
		MaxBufferSize: 10 * 1024 * 1024, // 10MB buffer for initialization logs
	}

	gatedLogger, _ := log.NewGatedLogger(logConfig, gateConfig)

	return gatedLogger
}

func buildContentStore(conf *config.Config, logger *log.GatedLogger) (content.Store, error) {
	if conf.Storage == nil {
		return nil, errors.New("a storage backend must be specified")
	}

	factory, exists := contentBackends[conf.Storage.Type]
	if !exists {
		return nil, fmt.Errorf("unknown storage type %s", conf.Storage.Type)
	}

	store, err := factory(conf.Storage.Config(), logger.WithSystem("storage."+conf.Storage.Type))
	if err != nil {
		return nil, fmt.Errorf("error initializing storage of type %s: %w", conf.Storage.Type, err)
	}

	return store, nil
}

func buildRightsResolver(conf *config.Config) (rights.Resolver, error) {
	switch conf.Rights.Type {
	case "policy":
		return rights.LoadPolicyFile(conf.Rights.Path)
	case "open":
		return rights.Open{}, nil
	default:
		return nil, fmt.Errorf("unknown rights type %s", conf.Rights.Type)
	}
}

// buildUsersResolver picks where display names come from: explicit
// configuration wins, then the policy file's name attributes, then the
// principal id itself.
func buildUsersResolver(conf *config.Config, resolver rights.Resolver) users.Resolver {
	if len(conf.Wopi.DisplayNames) > 0 {
		return users.NewStatic(conf.Wopi.DisplayNames)
	}
	if p, ok := resolver.(*rights.PolicyFile); ok {
		return p
	}
	return users.NewStatic(nil)
}

func initListeners(httpHandler http.Handler, conf *config.Config, logger *log.GatedLogger, infoKeys *[]string, info map[string]string) ([]listener.Listener, error) {
	lns := make([]listener.Listener, 0, len(conf.Listeners))

	for _, lnConfig := range conf.Listeners {
		ln, err := api.NewApiListener(api.ApiListenerConfig{
			Logger:      logger.WithSystem(subsystemListener),
			Address:     lnConfig.Address,
			TLSCertFile: lnConfig.TLSCertFile,
			TLSKeyFile:  lnConfig.TLSKeyFile,
			TLSEnabled:  lnConfig.TLSEnabled,
		}, httpHandler)
		if err != nil {
			return nil, fmt.Errorf("error initializing listener %s: %w", lnConfig.Name, err)
		}
		lns = append(lns, ln)

		key := fmt.Sprintf("listener %s", lnConfig.Name)
		info[key] = lnConfig.Address
		*infoKeys = append(*infoKeys, key)
	}

	return lns, nil
}
