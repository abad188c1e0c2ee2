package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/inspect"
	"github.com/grafana/vtinspect/pkg/util"
)

var cli struct {
	verbose    bool
	logFormat  string
	configFile string
	expandEnv  bool
	output     string
	metrics    bool
}

func main() {
	var cfg inspect.Config
	fs := flag.NewFlagSet("vtablecli", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	app := kingpin.New(filepath.Base(os.Args[0]), "Show the virtual function tables of C++ objects in core files and processes.").UsageWriter(os.Stdout)
	app.Version(version.Print("vtablecli"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cli.verbose)
	app.Flag("log.format", "Log format, logfmt or json.").Default("logfmt").EnumVar(&cli.logFormat, "logfmt", "json")
	configFlag := app.Flag("config.file", "YAML file with inspector options. Command line flags take precedence.")
	configFlag.StringVar(&cli.configFile)
	expandEnvFlag := app.Flag("config.expand-env", "Expands ${var} in the config file according to the values of the environment variables.")
	expandEnvFlag.BoolVar(&cli.expandEnv)
	app.Flag("metrics", "Print the collected metrics to stderr on exit.").BoolVar(&cli.metrics)
	app.Flag("output", "Output format, console or json.").Short('o').Default("console").EnumVar(&cli.output, "console", "json")
	// Inspector options have their defaults in cfg already, kingpin only sets what is given.
	fs.VisitAll(func(f *flag.Flag) {
		app.Flag(f.Name, f.Usage).SetValue(f.Value)
	})

	vtableCmd := app.Command("vtable", "Show the vtable of objects given by symbol name or load address.")
	vtablePointer := vtableCmd.Flag("pointer", "Objects hold a pointer, show the vtable of what they point to.").Short('p').Bool()
	vtableObjects := vtableCmd.Arg("object", "Variable name or 0x-prefixed load address.").Required().Strings()

	symbolCmd := app.Command("symbol", "Resolve load addresses to module and symbol.")
	symbolAddrs := symbolCmd.Arg("address", "Load address.").Required().Strings()

	modulesCmd := app.Command("modules", "List the modules loaded into the inferior.")

	if path := flagFromArgs(app, configFlag, os.Args[1:]); path != "" {
		expand := flagFromArgs(app, expandEnvFlag, os.Args[1:]) == "true"
		if err := inspect.LoadConfig(path, expand, &cfg); err != nil {
			os.Exit(checkError(err))
		}
	}
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	lvl := "info"
	if cli.verbose {
		lvl = "debug"
	}
	logger := util.NewLogger(os.Stderr, lvl, cli.logFormat)

	reg := prometheus.NewRegistry()
	in, err := inspect.New(logger, cfg, reg)
	if err != nil {
		os.Exit(checkError(err))
	}
	defer in.Close()

	switch parsedCmd {
	case vtableCmd.FullCommand():
		err = vtables(in, os.Stdout, *vtableObjects, *vtablePointer)
	case symbolCmd.FullCommand():
		err = symbols(in, os.Stdout, *symbolAddrs)
	case modulesCmd.FullCommand():
		err = modules(in, os.Stdout)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
	if cli.metrics {
		if merr := writeMetrics(os.Stderr, reg); merr != nil {
			level.Warn(logger).Log("msg", "failed to write metrics", "err", merr)
		}
	}
	if code := checkError(err); code != 0 {
		_ = in.Close()
		os.Exit(code)
	}
}

// flagFromArgs returns the value given to fc in args without applying any
// flags. The config file is read first so that the flags given override it.
func flagFromArgs(app *kingpin.Application, fc *kingpin.FlagClause, args []string) string {
	pc, err := app.ParseContext(args)
	if err != nil {
		return ""
	}
	for _, el := range pc.Elements {
		if c, ok := el.Clause.(*kingpin.FlagClause); ok && c == fc && el.Value != nil {
			return *el.Value
		}
	}
	return ""
}

func vtables(in *inspect.Inspector, w io.Writer, objects []string, pointer bool) error {
	reports := make([]*inspect.Report, 0, len(objects))
	for _, o := range objects {
		if addr, ok := parseAddress(o); ok {
			reports = append(reports, in.Inspect(in.VariableAt(addr, pointer)))
			continue
		}
		v, err := in.Variable(o, pointer)
		if err != nil {
			return err
		}
		reports = append(reports, in.Inspect(v))
	}
	if cli.output == "json" {
		return inspect.WriteJSON(w, reports)
	}
	for _, r := range reports {
		if err := r.WriteText(w); err != nil {
			return err
		}
	}
	return nil
}

func symbols(in *inspect.Inspector, w io.Writer, addrs []string) error {
	type resolved struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol,omitempty"`
		Module  string `json:"module,omitempty"`
	}
	res := make([]resolved, 0, len(addrs))
	for _, s := range addrs {
		addr, ok := parseAddress(s)
		if !ok {
			return fmt.Errorf("invalid address %q", s)
		}
		a := in.Resolve(addr)
		r := resolved{Address: addr.String()}
		if a.IsValid() {
			r.Symbol = a.String()
			r.Module = a.Module.Path
		}
		res = append(res, r)
	}
	if cli.output == "json" {
		return inspect.WriteJSON(w, res)
	}
	for _, r := range res {
		if r.Symbol == "" {
			r.Symbol = "?"
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", r.Address, r.Symbol); err != nil {
			return err
		}
	}
	return nil
}

func modules(in *inspect.Inspector, w io.Writer) error {
	ms := in.Modules()
	if cli.output == "json" {
		return inspect.WriteJSON(w, ms)
	}
	writeModules(w, ms)
	return nil
}

func writeModules(w io.Writer, ms []inspect.ModuleReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Path", "Start", "End", "Size", "Symbols", "DWARF", "Build ID", "Debug File"})
	for _, m := range ms {
		table.Append([]string{
			m.Path,
			m.Start,
			m.End,
			humanize.IBytes(m.Size),
			strconv.Itoa(m.Symbols),
			strconv.FormatBool(m.DWARF),
			m.BuildID,
			m.DebugFile,
		})
	}
	table.Render()
}

// writeMetrics prints every metric family of g in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func parseAddress(s string) (core.Address, bool) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, false
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, false
	}
	return core.Address(v), true
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, color.RedString("error: ")+err.Error())
	return 1
}
