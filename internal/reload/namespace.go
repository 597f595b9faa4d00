package reload

import (
	"log/slog"
	"maps"
)

// Names the file sees for its own identity.
const (
	KeyFile  = "__file__"
	KeyName  = "__name__"
	MainName = "__main__"
)

// Namespace is the environment a file is applied against.
type Namespace map[string]any

// Module is an optional binding. A module that fails to load is left out.
type Module struct {
	Name string
	Load func() (any, error)
}

// buildNamespace assembles a fresh namespace. Host bindings win over
// configured extras and modules; identity keys always win.
func buildNamespace(logger *slog.Logger, path string, host, extra Namespace, modules []Module) Namespace {
	ns := make(Namespace, len(host)+len(extra)+len(modules)+2)

	maps.Copy(ns, extra)

	for _, m := range modules {
		value, err := m.Load()
		if err != nil {
			logger.Debug("optional module unavailable", "module", m.Name, "error", err)
			continue
		}
		ns[m.Name] = value
	}

	maps.Copy(ns, host)

	ns[KeyFile] = path
	ns[KeyName] = MainName
	return ns
}
