package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	policyoverride "github.com/ericselin/policy-override"
	"github.com/ericselin/policy-override/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag  string
	portFlag            int
	originFlag          string
	addrFlag            string
	hostFlag            string
	dbFilenameFlag      string
	featuresFlag        string
	persistOnReloadFlag bool
	verbosityTraceFlag  bool
	logFilenameFlag     string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config, addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Override DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&featuresFlag, "features", "", "Comma-separated features supported by the browser")
	flag.BoolVar(&persistOnReloadFlag, "persist", false, "Keep overrides when the inspected page navigates")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config policyoverride.FileConfig
	if configFilenameFlag != "" {
		var err error
		if config, err = policyoverride.LoadConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Str("config", configFilenameFlag).Msg("Could not read config")
		}
	}

	// flags override config
	if portFlag > 0 {
		config.Port = portFlag
	}
	if config.Port <= 0 {
		config.Port = 8080
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	if featuresFlag != "" {
		config.Features = strings.Split(featuresFlag, ",")
	}
	if persistOnReloadFlag {
		config.PersistOnReload = true
	}

	// get the downstream server address
	var originURL *url.URL
	var err error
	if originFlag != "" {
		originURL, err = url.Parse(originFlag)
	} else if addrFlag != "" {
		originURL, err = url.Parse("https://" + addrFlag)
		config.Host = hostFlag
	} else if config.Origin != "" {
		originURL, err = url.Parse(config.Origin)
	} else {
		log.Fatal().Msg("Please specify origin")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}

	// set up override store, in memory unless a db file is given
	var provider store.Provider = store.NewMemStore()
	if config.DB != "" {
		dbFilename := config.DB
		if dbFilename == "memory" {
			dbFilename = ""
		}
		sqliteStore, err := store.NewSQLiteStore(dbFilename)
		if err != nil {
			log.Fatal().Err(err).Str("db", config.DB).Msg("Could not open override db")
		}
		defer sqliteStore.Close()
		provider = sqliteStore
	}

	registry := policyoverride.NewRegistry(provider, config.Features, &log.Logger)
	if err := registry.Resume(); err != nil {
		log.Fatal().Err(err).Msg("Could not resume saved sessions")
	}
	if err := config.SeedSessions(registry); err != nil {
		log.Fatal().Err(err).Msg("Could not seed configured sessions")
	}

	proxy := policyoverride.CreateProxy(policyoverride.Config{
		Registry:        registry,
		OriginURL:       *originURL,
		OriginHost:      config.Host,
		Logger:          &log.Logger,
		Documents:       config.Documents,
		SessionHeader:   config.SessionHeader,
		Prefix:          config.Prefix,
		PersistOnReload: config.PersistOnReload,
	})
	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, originURL.String(), config.Host)
	err = http.ListenAndServe(fmt.Sprintf(":%d", config.Port), proxy)

	if err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
