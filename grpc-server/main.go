package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/nci/rastex/cache"
	"github.com/nci/rastex/metrics"
	"github.com/nci/rastex/utils"
	"github.com/nci/rastex/worker/gdalprocess"
	rs "github.com/nci/rastex/worker/rasterservice"
)

var (
	port           = flag.Int("p", 0, "gRPC server listening port. Overrides grpc_port of the config file.")
	configFile     = flag.String("conf", utils.EtcDir+"/config.yaml", "Server config file.")
	serverDataDir  = flag.String("data_dir", utils.DataDir, "Colon separated search path for relative dataset paths.")
	serverLogDir   = flag.String("log_dir", "", "Request metrics log directory, '-' logs to stdout.")
	validateConfig = flag.Bool("check_conf", false, "Validate the server config file.")
	verbose        = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

func newMetricsLogger(log zerolog.Logger) metrics.Logger {
	if len(*serverLogDir) == 0 {
		return nil
	}
	if *serverLogDir == "-" {
		return metrics.NewStdoutLogger(log)
	}

	maxLogFileSize := int64(0)
	if val, ok := os.LookupEnv("RASTEX_MAX_LOG_FILE_SIZE"); ok {
		valInt, e := strconv.ParseInt(val, 10, 64)
		if e == nil {
			maxLogFileSize = valInt
		} else {
			log.Error().Err(e).Msg("invalid RASTEX_MAX_LOG_FILE_SIZE")
		}
	}

	maxLogFiles := -1
	if val, ok := os.LookupEnv("RASTEX_MAX_LOG_FILES"); ok {
		valInt, e := strconv.ParseInt(val, 10, 32)
		if e == nil {
			maxLogFiles = int(valInt)
		} else {
			log.Error().Err(e).Msg("invalid RASTEX_MAX_LOG_FILES")
		}
	}

	return metrics.NewFileLogger(log, *serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
}

func main() {
	flag.Parse()

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in loading config file: %v\n", err)
		os.Exit(2)
	}
	utils.DataDir = config.ServiceConfig.SearchPath(*serverDataDir, utils.FlagPassed("data_dir"))
	if *validateConfig {
		os.Exit(0)
	}

	sc := config.ServiceConfig
	sc.Log.Component = "grpc-server"
	log := utils.VerboseLogger(sc.Log, os.Stderr, *verbose)
	if *port > 0 {
		sc.GrpcPort = *port
	}

	registry, err := rs.NewRegistry(config.Datasets, sc.DatasetCacheSize, gdalprocess.NewOpener(&log, *verbose), log)
	if err != nil {
		log.Fatal().Err(err).Msg("creating dataset registry")
	}
	registry.Verbose = *verbose

	provider := metrics.NewProvider()
	server := rs.NewServer(registry, provider, sc.ConcLimit, log)
	server.Verbose = *verbose

	metricsLogger := newMetricsLogger(log)
	server.MetricsLogger = metricsLogger

	if len(sc.RedisAddress) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		resultCache, err := cache.New(ctx, sc.RedisAddress, sc.RedisDB, sc.ResultTTL())
		cancel()
		if err != nil {
			log.Error().Err(err).Str("redis", sc.RedisAddress).Msg("result cache disabled")
		} else {
			defer resultCache.Close()
			server.Cache = resultCache
			log.Info().Str("redis", sc.RedisAddress).Dur("ttl", sc.ResultTTL()).Msg("result cache enabled")
		}
	}

	holder := utils.NewConfigHolder(config)
	stopWatch := utils.WatchConfig(log, *configFile, holder, func(c *utils.Config) {
		registry.Reload(c.Datasets)
	})
	defer stopWatch()

	if len(sc.MetricsAddress) > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", provider.Handler())
		go func() {
			log.Info().Str("address", sc.MetricsAddress).Msg("metrics listening")
			if err := http.ListenAndServe(sc.MetricsAddress, mux); err != nil {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	s := grpc.NewServer(grpc.MaxRecvMsgSize(sc.MaxGrpcRecvMsgSize))
	rs.RegisterRasterReaderServer(s, server)

	lis, err := reuseport.Listen("tcp", fmt.Sprintf(":%d", sc.GrpcPort))
	if err != nil {
		log.Fatal().Err(err).Int("port", sc.GrpcPort).Msg("failed to listen")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signals
		log.Info().Stringer("signal", sig).Msg("stopping")
		s.GracefulStop()
	}()

	log.Info().Int("port", sc.GrpcPort).Int("datasets", len(config.Datasets)).Int("conc_limit", sc.ConcLimit).Msg("serving")
	if err := s.Serve(lis); err != nil {
		log.Fatal().Err(err).Msg("failed to serve")
	}

	if fl, ok := metricsLogger.(*metrics.FileLogger); ok {
		fl.Close()
	}
}
