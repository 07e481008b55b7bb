package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nci/rastex/catalog"
	extr "github.com/nci/rastex/crawl/extractor"
	"github.com/nci/rastex/processor"
	"github.com/nci/rastex/utils"
	"github.com/nci/rastex/worker/gdalprocess"
)

var (
	configFile  = flag.String("conf", utils.EtcDir+"/config.yaml", "config file")
	dataDir     = flag.String("data_dir", utils.DataDir, "colon separated search path for relative dataset paths")
	format      = flag.String("format", "json", "output format: json or text")
	templateDir = flag.String("template_dir", "", "directory holding crawl_report.tpl for text output")
	filter      = flag.String("filter", "", "slice filter expression over path, id, start and end")
	stat        = flag.Bool("stat", false, "inspect every slice file")
	conc        = flag.Int("conc", 16, "concurrent slice file inspections")
	verbose     = flag.Bool("v", false, "verbose logging")
)

func ensure(log zerolog.Logger, err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("crawl")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <dataset>|-\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	log := utils.VerboseLogger(utils.LogConfig{Console: true, Component: "crawl", Level: "warn"}, os.Stderr, *verbose)

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	if *format != "json" && *format != "text" {
		ensure(log, fmt.Errorf("unknown format %q", *format))
	}

	name := flag.Arg(0)
	if name == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		name = strings.TrimSpace(scanner.Text())
	}

	config, err := utils.LoadConfig(*configFile)
	ensure(log, err)
	cfg, found := config.Dataset(name)
	if !found {
		ensure(log, fmt.Errorf("dataset %q is not in %s", name, *configFile))
	}

	sliceFilter, err := extr.ParseSliceFilter(*filter)
	ensure(log, err)

	ctx := context.Background()
	resolver := utils.NewRuntimeFileResolver(config.ServiceConfig.SearchPath(*dataDir, utils.FlagPassed("data_dir")))
	opts := processor.DatasetOptions{
		Name:    cfg.Name,
		Opener:  gdalprocess.NewOpener(&log, *verbose),
		Logger:  &log,
		Verbose: *verbose,
	}
	if cfg.Path != "" {
		opts.DefaultFile, err = resolver.Lookup(cfg.Path)
		ensure(log, err)
	}
	if cfg.CatalogDSN != "" {
		location, err := resolver.Lookup(cfg.GrassLocation)
		ensure(log, err)
		loader, err := catalog.NewLoader(cfg.CatalogDSN, location, log)
		ensure(log, err)
		opts.Catalog, err = loader.Load(ctx)
		loader.Close()
		ensure(log, err)
	}

	ds, err := processor.OpenDataset(ctx, opts)
	ensure(log, err)

	report, err := extr.BuildReport(ds, extr.ReportOptions{Title: cfg.Title, Filter: sliceFilter, Stat: *stat, Conc: *conc})
	ensure(log, err)

	if *format == "text" {
		err = extr.WriteText(os.Stdout, report, *templateDir)
	} else {
		err = extr.WriteJSON(os.Stdout, report)
	}
	ensure(log, err)
}
