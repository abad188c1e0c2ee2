package main

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/inspect"
)

func TestParseAddress(t *testing.T) {
	for _, tc := range []struct {
		in   string
		addr core.Address
		ok   bool
	}{
		{"0x401000", 0x401000, true},
		{"0XFFFF800000000000", 0xffff800000000000, true},
		{"401000", 0, false},
		{"g_rect", 0, false},
		{"0xzz", 0, false},
	} {
		addr, ok := parseAddress(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.addr, addr, tc.in)
	}
}

func TestFlagFromArgs(t *testing.T) {
	app := kingpin.New("test", "")
	configFlag := app.Flag("config.file", "")
	configFlag.String()
	expandFlag := app.Flag("config.expand-env", "")
	expandFlag.Bool()
	app.Command("modules", "")

	require.Equal(t, "/etc/vt.yaml", flagFromArgs(app, configFlag, []string{"--config.file=/etc/vt.yaml", "modules"}))
	require.Equal(t, "", flagFromArgs(app, configFlag, []string{"modules"}))
	require.Equal(t, "true", flagFromArgs(app, expandFlag, []string{"--config.expand-env", "modules"}))
	require.Equal(t, "", flagFromArgs(app, expandFlag, []string{"modules"}))
}

func TestWriteModules(t *testing.T) {
	var buf bytes.Buffer
	writeModules(&buf, []inspect.ModuleReport{{
		Path:    "/bin/shapes",
		Start:   "0x0000000000401000",
		End:     "0x0000000000601000",
		Size:    0x200000,
		Symbols: 8,
		DWARF:   true,
		BuildID: "6b2a",
	}})
	out := buf.String()
	require.Contains(t, out, "/bin/shapes")
	require.Contains(t, out, "2.0 MiB")
	require.Contains(t, out, "6b2a")
}

func TestWriteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vtinspect_node_recomputes_total",
		Help: "Recomputed nodes.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(c)
	c.WithLabelValues("vtable", "valid").Add(2)

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, reg))
	require.Contains(t, buf.String(), `vtinspect_node_recomputes_total{kind="vtable",outcome="valid"} 2`)
}
