package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchbaselabs/ravenclient/client"
	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/pkg/webapi"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Prints the cluster topology, or the topology of a database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithStore(cmd, func(ctx context.Context, logger *zap.Logger, store *client.DocumentStore) error {
			if viper.GetString("database") == "" {
				info, err := store.OpenSession("").GetClusterTopology(ctx)
				if err != nil {
					return err
				}
				return printJSON(info)
			}

			executor, err := store.GetRequestExecutor(ctx, "")
			if err != nil {
				return err
			}

			err = executor.WaitReady(ctx)
			if err != nil {
				return err
			}

			dbTopology, err := executor.Topology(ctx)
			if err != nil {
				return err
			}
			return printJSON(dbTopology.NodeList())
		})
	},
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Prints a page of documents from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithStore(cmd, func(ctx context.Context, logger *zap.Logger, store *client.DocumentStore) error {
			var pageSize, start *int64
			if cmd.Flags().Changed("page-size") {
				pageSize = ravencommand.Int64(docsPageSize)
			}
			if cmd.Flags().Changed("start") {
				start = ravencommand.Int64(docsStart)
			}

			page, err := store.OpenSession("").GetAllDocumentsForDatabase(ctx, pageSize, start)
			if err != nil {
				return err
			}

			for _, doc := range page.Results {
				fmt.Println(string(doc))
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watches the topology of the database and serves metrics until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		runWatch()
	},
}

var docsPageSize int64
var docsStart int64

func init() {
	docsCmd.Flags().Int64Var(&docsPageSize, "page-size", 25, "the number of documents to fetch")
	docsCmd.Flags().Int64Var(&docsStart, "start", 0, "the number of documents to skip")
}

func printJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func runWithStore(
	cmd *cobra.Command,
	fn func(ctx context.Context, logger *zap.Logger, store *client.DocumentStore) error,
) error {
	logLevel, logger := getLogger()
	config := readConfig(logger)
	setLogLevel(logger, logLevel, config.logLevelStr)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := openStore(ctx, logger, config)
	if err != nil {
		return err
	}
	defer env.Close(context.Background())

	return fn(ctx, logger, env.store)
}

func runWatch() {
	// initialize the logger
	logLevel, logger := getLogger()

	logger.Info("starting ravenctl watch", zap.String("version", buildVersion))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	config := readConfig(logger)
	setLogLevel(logger, logLevel, config.logLevelStr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := openStore(ctx, logger, config)
	if err != nil {
		logger.Error("failed to open document store", zap.Error(err))
		os.Exit(1)
	}
	defer env.Close(context.Background())

	executor, err := env.store.GetRequestExecutor(ctx, "")
	if err != nil {
		logger.Error("failed to get request executor", zap.Error(err))
		os.Exit(1)
	}

	// setup the web service
	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webServer := webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
		HealthCheck: func(ctx context.Context) error {
			dbTopology, err := executor.Topology(ctx)
			if err != nil {
				return err
			}
			if dbTopology.Len() == 0 {
				return client.ErrNoNodeAvailable
			}
			return nil
		},
		TopologyFunc: func(ctx context.Context) (any, error) {
			dbTopology, err := executor.Topology(ctx)
			if err != nil {
				return nil, err
			}
			return dbTopology.NodeList(), nil
		},
	})
	defer func() {
		_ = webServer.Shutdown(context.Background())
	}()

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		if cfgFile != "" {
			err := viper.ReadInConfig()
			if err != nil {
				logger.Warn("failed to parse configuration file",
					zap.Error(err))
			}
		}

		newConfig := readConfig(logger)

		if len(newConfig.urls) != len(config.urls) ||
			newConfig.database != config.database ||
			newConfig.certPath != config.certPath ||
			newConfig.trustStorePath != config.trustStorePath ||
			newConfig.proxy != config.proxy {
			logger.Warn("config changes for urls, database, cert, trustStore, or proxy require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			setLogLevel(logger, logLevel, newConfig.logLevelStr)

			logger.Info("updated log level",
				zap.String("newLevel", logLevel.Level().String()))
		}

		config = newConfig
	}

	if watchCfgFile && cfgFile != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					cancel()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				cancel()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	err = executor.WaitReady(ctx)
	if err != nil {
		logger.Warn("initial topology discovery found no nodes", zap.Error(err))
	}

	topologyCh, err := executor.WatchTopology(ctx)
	if err != nil {
		logger.Error("failed to watch topology", zap.Error(err))
		os.Exit(1)
	}

	for dbTopology := range topologyCh {
		logger.Info("topology",
			zap.Int64("etag", dbTopology.Etag),
			zap.Int("nodes", dbTopology.Len()),
			zap.Bool("synthetic", dbTopology.IsSynthetic()))

		for _, node := range dbTopology.NodeList() {
			logger.Info("topology node",
				zap.String("url", node.URL.String()),
				zap.String("tag", node.ClusterTag),
				zap.Stringer("role", node.Role),
				zap.Uint32("failures", dbTopology.FailureCount(node.Key())))
		}
	}

	logger.Info("ravenctl watch shutdown gracefully")
}
