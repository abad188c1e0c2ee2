package symtab

import "github.com/ianlancetaylor/demangle"

var (
	// DemangleSimplified drops parameters and template arguments:
	// "Rectangle::Area".
	DemangleSimplified = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	// DemangleTemplates keeps template arguments but not parameters.
	DemangleTemplates = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	// DemangleFull is the complete demangled name without clone suffixes. Symbol
	// names always use it, so that "vtable for " prefixes can be matched.
	DemangleFull = []demangle.Option{demangle.NoClones}
)

// demangleStyles maps a style name to the options used for display names.
// "none" keeps the linkage name as is.
var demangleStyles = map[string][]demangle.Option{
	"none":       nil,
	"simplified": DemangleSimplified,
	"templates":  DemangleTemplates,
	"full":       DemangleFull,
}

// DemangleStyles lists the names accepted by ConvertDemangleOptions.
var DemangleStyles = []string{"none", "simplified", "templates", "full"}

// ConvertDemangleOptions returns the display name options of style. Unknown
// styles leave names mangled.
func ConvertDemangleOptions(style string) []demangle.Option {
	return demangleStyles[style]
}
