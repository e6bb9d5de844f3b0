package keystore

// Option configures a KeyStore lookup
type Option func(*options)

type options struct {
	withKID string
	withAlg string
	withUse string
}

func getOpts(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// WithKID selects a key by its key id
func WithKID(kid string) Option {
	return func(o *options) {
		o.withKID = kid
	}
}

// WithAlg selects a key compatible with the given JOSE algorithm
func WithAlg(alg string) Option {
	return func(o *options) {
		o.withAlg = alg
	}
}

// WithUse selects a key by its use ("sig" or "enc"). Keys that declare no
// use match any.
func WithUse(use string) Option {
	return func(o *options) {
		o.withUse = use
	}
}
