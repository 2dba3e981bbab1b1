// File: netio/uvreq.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Uvreq is an in-flight I/O request record: a send region, its
// completion callback, and an attached handle, released at completion.
// Records come from one package-wide sync.Pool shared by all sockets;
// no per-socket pool is kept.

package netio

import "sync"

// Uvreq is a pooled record of one outstanding send, carrying the handle
// that must receive its completion callback. Transport packages acquire
// one per queued send instead of closing over the region/callback pair
// directly, so the record itself - not just its payload - is reused
// across sends rather than allocating a request struct per call.
type Uvreq struct {
	handle *Handle
	region []byte
	sendCB SendCallback
}

var uvreqPool = sync.Pool{New: func() any { return new(Uvreq) }}

// AcquireUvreq claims a pooled Uvreq for one send, attaching handle,
// region, and completion callback.
func AcquireUvreq(h *Handle, region []byte, cb SendCallback) *Uvreq {
	r := uvreqPool.Get().(*Uvreq)
	r.handle = h
	r.region = region
	r.sendCB = cb
	return r
}

// Region returns the payload attached at Acquire time.
func (r *Uvreq) Region() []byte { return r.region }

// Handle returns the handle this request will complete against.
func (r *Uvreq) Handle() *Handle { return r.handle }

// Complete invokes the completion callback and returns the request to
// the pool. Must be called at most once per Uvreq.
func (r *Uvreq) Complete(err error) {
	cb, h := r.sendCB, r.handle
	r.handle, r.region, r.sendCB = nil, nil, nil
	uvreqPool.Put(r)
	if cb != nil {
		cb(h, err)
	}
}
