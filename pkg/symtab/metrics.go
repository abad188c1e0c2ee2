package symtab

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ModuleErrors   *prometheus.CounterVec
	KnownSymbols   *prometheus.CounterVec
	UnknownSymbols *prometheus.CounterVec
	UnknownModules prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModuleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtinspect_symtab_module_errors_total",
			Help: "Total number of errors while trying to load a module",
		}, []string{"error"}),
		KnownSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtinspect_symtab_known_symbols_total",
			Help: "Total number of successfully resolved symbols",
		}, []string{"module"}),
		UnknownSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtinspect_symtab_unknown_symbols_total",
			Help: "Total number of unresolved symbols for a module",
		}, []string{"module"}),
		UnknownModules: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vtinspect_symtab_unknown_modules_total",
			Help: "Total number of addresses no loaded module covers",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ModuleErrors,
			m.KnownSymbols,
			m.UnknownSymbols,
			m.UnknownModules,
		)
	}

	return m
}

func (m *Metrics) moduleError(reason string) {
	if m != nil {
		m.ModuleErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) knownSymbol(mod *Module) {
	if m != nil {
		m.KnownSymbols.WithLabelValues(mod.Name()).Inc()
	}
}

func (m *Metrics) unknownSymbol(mod *Module) {
	if m != nil {
		m.UnknownSymbols.WithLabelValues(mod.Name()).Inc()
	}
}

func (m *Metrics) unknownModule() {
	if m != nil {
		m.UnknownModules.Inc()
	}
}
