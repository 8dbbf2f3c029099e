package ai

import (
	"errors"
	"io"
)

// composite pairs an Embedder and a Tagger built from different backends.
type composite struct {
	embedder Embedder
	tagger   Tagger
	closers  []io.Closer
}

// NewProvider combines independently constructed services into a Provider.
// closers are closed in reverse order by Close.
func NewProvider(embedder Embedder, tagger Tagger, closers ...io.Closer) Provider {
	return &composite{embedder: embedder, tagger: tagger, closers: closers}
}

func (p *composite) Embedder() Embedder { return p.embedder }

func (p *composite) Tagger() Tagger { return p.tagger }

func (p *composite) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
