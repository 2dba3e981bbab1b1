// File: transport/doh/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package doh_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/hioload/netmgr/netio"
	"github.com/hioload/netmgr/transport/doh"
)

func selfSignedConfig(t *testing.T) *tls.Config {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "netmgr-doh-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  nil,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

func TestDoHPostRoundTrip(t *testing.T) {
	cfg := netio.DefaultConfig()
	cfg.NWorkers = 2
	m := netio.NewManager(cfg)
	defer m.Destroy()

	serverCfg := selfSignedConfig(t)
	fakeResponse := []byte{0xde, 0xad, 0xbe, 0xef}

	listener, err := doh.ListenHTTP(m, "127.0.0.1:0", serverCfg, 128, nil, 100, 4096)
	if err != nil {
		t.Fatalf("ListenHTTP: %v", err)
	}
	defer doh.StopListeningHTTP(listener)

	doh.AddEndpoint(listener, "/dns-query", func(h *netio.Handle, err error, region []byte) {
		if err != nil {
			return
		}
		doh.Send(h, fakeResponse, nil)
	})

	addr := listener.LocalAddr().String()
	url := "https://" + addr + "/dns-query"

	clientCfg := &tls.Config{InsecureSkipVerify: true}
	requestBody := []byte{0x00, 0x01, 0x02}

	done := make(chan struct{})
	var gotBody []byte
	var gotErr error
	doh.SendRequest(url, "POST", requestBody, func(h *netio.Handle, err error, region []byte) {
		gotErr = err
		gotBody = append([]byte(nil), region...)
		close(done)
	}, clientCfg, 5*time.Second)

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for DoH POST round trip")
	}
	if gotErr != nil {
		t.Fatalf("SendRequest error: %v", gotErr)
	}
	if string(gotBody) != string(fakeResponse) {
		t.Fatalf("got %v want %v", gotBody, fakeResponse)
	}
}

func TestDoHGetRoundTrip(t *testing.T) {
	cfg := netio.DefaultConfig()
	cfg.NWorkers = 2
	m := netio.NewManager(cfg)
	defer m.Destroy()

	serverCfg := selfSignedConfig(t)
	fakeResponse := []byte{0x01, 0x02, 0x03}

	listener, err := doh.ListenHTTP(m, "127.0.0.1:0", serverCfg, 128, nil, 100, 4096)
	if err != nil {
		t.Fatalf("ListenHTTP: %v", err)
	}
	defer doh.StopListeningHTTP(listener)

	var gotRequestBody []byte
	doh.AddEndpoint(listener, "/dns-query", func(h *netio.Handle, err error, region []byte) {
		if err != nil {
			return
		}
		gotRequestBody = append([]byte(nil), region...)
		doh.Send(h, fakeResponse, nil)
	})

	addr := listener.LocalAddr().String()
	url := "https://" + addr + "/dns-query"

	clientCfg := &tls.Config{InsecureSkipVerify: true}
	requestBody := []byte{0xaa, 0xbb, 0xcc, 0xdd}

	done := make(chan struct{})
	var gotBody []byte
	doh.SendRequest(url, "GET", requestBody, func(h *netio.Handle, err error, region []byte) {
		gotBody = append([]byte(nil), region...)
		close(done)
	}, clientCfg, 5*time.Second)

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for DoH GET round trip")
	}
	if string(gotBody) != string(fakeResponse) {
		t.Fatalf("got %v want %v", gotBody, fakeResponse)
	}
	if string(gotRequestBody) != string(requestBody) {
		t.Fatalf("server decoded request body %v want %v", gotRequestBody, requestBody)
	}
}
