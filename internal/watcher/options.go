package watcher

import (
	"path/filepath"
	"runtime"
	"time"
)

// DefaultPollInterval is the polling backend's period.
const DefaultPollInterval = time.Second

// Options configures the file watcher behavior.
type Options struct {
	// Backend selects the change source. Empty means KindAuto.
	Backend Kind
	// PollInterval is the polling backend's period.
	PollInterval time.Duration
	// IgnorePatterns are base-name globs that are never reported.
	IgnorePatterns []string
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.Backend == "" {
		o.Backend = KindAuto
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	// Editor swap and backup files. nil means defaults, an empty slice means none.
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{
			"*.swp",
			"*.swx",
			"*~",
			".#*",
			"4913",
		}
	}
}

// shouldIgnore checks if a path matches ignore patterns.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range o.IgnorePatterns {
		matched, err := filepath.Match(pattern, base)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// candidates lists the backends to try, in order. Polling is always last
// because it cannot fail to initialise.
func (o *Options) candidates() []Kind {
	switch o.Backend {
	case KindPoll:
		return []Kind{KindPoll}
	case KindFsnotify:
		return []Kind{KindFsnotify, KindPoll}
	case KindInotify:
		return []Kind{KindInotify, KindPoll}
	default:
		if runtime.GOOS == "linux" {
			return []Kind{KindInotify, KindFsnotify, KindPoll}
		}
		return []Kind{KindFsnotify, KindPoll}
	}
}
