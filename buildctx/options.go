package buildctx

import "github.com/HershyOrg/dockhand/logger"

type Option func(*options)

type options struct {
	log           *logger.Logger
	useIgnoreFile bool
}

func newOptions(opts []Option) options {
	o := options{log: logger.Nop(), useIgnoreFile: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithoutIgnoreFile disables .dockerignore handling.
func WithoutIgnoreFile() Option {
	return func(o *options) {
		o.useIgnoreFile = false
	}
}
