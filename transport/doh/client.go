// File: transport/doh/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP/2 DoH client: http_connect_send_request.
// golang.org/x/net/http2.Transport supplies connection pooling, framing,
// and flow control; this file composes the GET/POST request and decodes
// the response.

package doh

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/hioload/netmgr/netio"
)

// SendRequest implements http_connect_send_request(url, method, body,
// recv_cb, tls_ctx?, timeout). recv_cb fires exactly once, with the
// decoded response body or a failure; the handle argument is nil since a
// one-shot client request has no persistent handle of its own.
func SendRequest(rawURL, method string, body []byte, cb netio.RecvCallback, tlsCfg *tls.Config, timeout time.Duration) {
	go func() {
		u, err := ParseURL(rawURL)
		if err != nil {
			deliver(cb, netio.NewError("doh", netio.ErrInvalidProto, err), nil)
			return
		}

		transport := &http2.Transport{}
		if u.TLS {
			cfg := tlsCfg
			if cfg == nil {
				cfg = &tls.Config{}
			} else {
				cfg = cfg.Clone()
			}
			ensureALPN(cfg)
			transport.TLSClientConfig = cfg
		} else {
			transport.AllowHTTP = true
			transport.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			}
		}

		req, err := buildRequest(u, method, body)
		if err != nil {
			deliver(cb, netio.NewError("doh", netio.ErrFailure, err), nil)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := transport.RoundTrip(req.WithContext(ctx))
		if err != nil {
			kind := netio.ErrFailure
			if ctx.Err() == context.DeadlineExceeded {
				kind = netio.ErrTimedOut
			}
			deliver(cb, netio.NewError("doh", kind, err), nil)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK || resp.Header.Get("content-type") != "application/dns-message" {
			deliver(cb, netio.NewError("doh", netio.ErrInvalidProto,
				fmt.Errorf("status=%d content-type=%q", resp.StatusCode, resp.Header.Get("content-type"))), nil)
			return
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			deliver(cb, netio.NewError("doh", netio.ErrFailure, err), nil)
			return
		}
		deliver(cb, nil, respBody)
	}()
}

func deliver(cb netio.RecvCallback, err error, body []byte) {
	if cb != nil {
		cb(nil, err, body)
	}
}

func buildRequest(u *ParsedURL, method string, body []byte) (*http.Request, error) {
	scheme := "http"
	if u.TLS {
		scheme = "https"
	}
	hostport := net.JoinHostPort(u.Host, strconv.Itoa(u.Port))

	switch method {
	case http.MethodGet:
		param, err := EncodeGETBody(body)
		if err != nil {
			return nil, err
		}
		target := fmt.Sprintf("%s://%s%s?dns=%s", scheme, hostport, u.Path, param)
		req, err := http.NewRequest(http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("accept", "application/dns-message")
		return req, nil
	case http.MethodPost:
		target := fmt.Sprintf("%s://%s%s", scheme, hostport, u.Path)
		req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("content-type", "application/dns-message")
		return req, nil
	default:
		return nil, fmt.Errorf("doh: unsupported method %q", method)
	}
}
