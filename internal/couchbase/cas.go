package couchbase

import "github.com/couchbase/gocb/v2"

// CasGetter is implemented by documents that remember the CAS they were read
// with.
type CasGetter interface {
	GetCas() gocb.Cas
}

// CasSetter is implemented by documents that can record a CAS value.
type CasSetter interface {
	SetCas(cas gocb.Cas)
}

// Cas records the CAS value of a document. Embed it so Get fills it in and
// Replace uses it for optimistic locking.
type Cas struct {
	cas gocb.Cas
}

func (c *Cas) GetCas() gocb.Cas {
	return c.cas
}

func (c *Cas) SetCas(cas gocb.Cas) {
	c.cas = cas
}
