package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/naviserver-project/nsdbilite/pkg/config"
	"github.com/naviserver-project/nsdbilite/pkg/dbi"
	"github.com/naviserver-project/nsdbilite/pkg/lite"
)

type options struct {
	PositionalArgs struct {
		SQL string `positional-arg-name:"sql" description:"sql statement to run"`
	} `positional-args:"yes" positional-optional:"no"`

	Datasource string   `short:"d" long:"dsn" env:"NSDBILITE_DSN" default:":memory:" description:"database file or :memory:"`
	Retries    int      `short:"r" long:"retries" env:"NSDBILITE_RETRIES" default:"100" description:"busy retry budget"`
	Args       []string `short:"a" long:"arg" description:"positional text parameter, repeatable"`
	ConfigFile string   `short:"f" long:"config" description:"config file (yaml or toml), overrides dsn and retries"`

	Dbg bool `long:"dbg" description:"debug mode"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	fmt.Printf("nsdbilite %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
	}
	setupLog(opts.Dbg)

	if err := run(opts); err != nil {
		log.Printf("[WARN] %v", err)
		exitFunc(1)
	}
}

func run(opts options) error {
	cfg := lite.Config{Datasource: opts.Datasource, BusyRetries: opts.Retries}
	if opts.Retries == 0 {
		cfg.BusyRetries = -1 // explicit -r 0 means no retries, the driver reserves 0 for the default
	}
	if opts.ConfigFile != "" {
		fileCfg, err := config.Load(opts.ConfigFile)
		if err != nil {
			return err
		}
		cfg = fileCfg.Driver()
	}

	h, err := dbi.Open(lite.New(cfg))
	if err != nil {
		return fmt.Errorf("can't connect to %s: %w", cfg.Datasource, err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Printf("[WARN] can't close handle: %v", err)
		}
	}()

	values := make([]dbi.Value, len(opts.Args))
	for i, a := range opts.Args {
		values[i] = dbi.TextValue(a)
	}

	st, err := h.Prepare(opts.PositionalArgs.SQL)
	if err != nil {
		return fmt.Errorf("can't prepare statement: %w", err)
	}
	log.Printf("[DEBUG] prepared %q: %d params, %d columns", st.SQL, st.NumParams, st.NumCols)

	if st.NumCols == 0 {
		if err := h.Exec(opts.PositionalArgs.SQL, values...); err != nil {
			return fmt.Errorf("can't execute statement: %w", err)
		}
		fmt.Println(color.GreenString("ok"))
		return nil
	}

	rows, err := h.Query(opts.PositionalArgs.SQL, values...)
	if err != nil {
		return fmt.Errorf("can't run query: %w", err)
	}
	defer rows.Close() // nolint

	return printRows(rows)
}

func printRows(rows *dbi.Rows) error {
	header := color.New(color.FgCyan, color.Bold)
	n := 0
	for {
		ok, err := rows.Next()
		if err != nil {
			return fmt.Errorf("can't fetch row: %w", err)
		}
		if !ok {
			break
		}
		if n == 0 {
			for i, c := range rows.Columns() {
				if i > 0 {
					fmt.Print("\t")
				}
				header.Print(c.Name) // nolint
			}
			fmt.Println()
		}
		for i, c := range rows.Columns() {
			if i > 0 {
				fmt.Print("\t")
			}
			switch {
			case c.Null:
				fmt.Print(color.HiBlackString("<null>"))
			case c.Binary:
				fmt.Printf("<%d bytes>", len(c.Data))
			default:
				fmt.Print(string(c.Data))
			}
		}
		fmt.Println()
		n++
	}
	log.Printf("[DEBUG] fetched %d rows", n)
	return nil
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
