package sandbox

import (
	"strings"

	"github.com/pithecene-io/hostbridge/types"
)

// deniedPattern is a substring that rejects a snippet outright, paired with
// the reason reported to the caller. The scan is deliberately coarse: it is
// a cheap pre-filter in front of the evaluator's own restricted environment,
// not the security boundary itself.
type deniedPattern struct {
	substr string
	reason string
}

var deniedPatterns = []deniedPattern{
	// module / package loading
	{"import ", "module imports are not allowed"},
	{"import(", "module imports are not allowed"},
	{"require(", "module imports are not allowed"},

	// filesystem
	{"os.Open", "filesystem access is not allowed"},
	{"os.Create", "filesystem access is not allowed"},
	{"os.Remove", "filesystem access is not allowed"},
	{"ioutil.", "filesystem access is not allowed"},
	{"open(", "filesystem access is not allowed"},
	{"file(", "filesystem access is not allowed"},

	// network
	{"net.Dial", "network access is not allowed"},
	{"http.", "network access is not allowed"},
	{"socket", "network access is not allowed"},
	{"urllib", "network access is not allowed"},

	// process control
	{"exec.Command", "process execution is not allowed"},
	{"syscall", "process execution is not allowed"},
	{"subprocess", "process execution is not allowed"},
	{"os.Exit", "process execution is not allowed"},

	// dynamic evaluation
	{"eval(", "dynamic evaluation is not allowed"},
	{"compile(", "dynamic evaluation is not allowed"},
	{"exec(", "dynamic evaluation is not allowed"},

	// introspection escape hatches
	{"reflect.", "reflection is not allowed"},
	{"unsafe.", "unsafe access is not allowed"},
	{"__", "dunder access is not allowed"},
	{"globals(", "environment introspection is not allowed"},
	{"locals(", "environment introspection is not allowed"},
}

// maxSnippetBytes bounds snippet size before any scanning happens.
const maxSnippetBytes = 64 * 1024

// Validate rejects snippets containing denied constructs. Returns a
// *types.ValidationError naming the first offending pattern.
func Validate(code string) error {
	if strings.TrimSpace(code) == "" {
		return types.NewValidationError("empty code snippet")
	}
	if len(code) > maxSnippetBytes {
		return types.NewValidationError("code snippet exceeds maximum size")
	}
	for _, p := range deniedPatterns {
		if strings.Contains(code, p.substr) {
			return types.NewValidationError("denied construct %q: %s", p.substr, p.reason)
		}
	}
	return nil
}
