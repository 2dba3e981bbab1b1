// File: transport/tls/tls_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tls_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/hioload/netmgr/netio"
	netmgrtls "github.com/hioload/netmgr/transport/tls"
)

func selfSignedConfig(t *testing.T) *tls.Config {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "netmgr-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{Certificates: []tls.Certificate{cert}, InsecureSkipVerify: true}
}

func TestTLSHandshakeAndRoundTrip(t *testing.T) {
	cfg := netio.DefaultConfig()
	cfg.NWorkers = 2
	m := netio.NewManager(cfg)
	defer m.Destroy()

	serverCfg := selfSignedConfig(t)
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	var wg sync.WaitGroup
	wg.Add(2)

	listener, err := netmgrtls.Listen(m, "127.0.0.1:0", serverCfg, func(h *netio.Handle, err error) {
		if err != nil {
			t.Errorf("server tls accept error: %v", err)
			wg.Done()
			return
		}
		netmgrtls.Read(h, func(h *netio.Handle, err error, region []byte) {
			if err != nil {
				return
			}
			netmgrtls.Send(h, []byte("pong"), nil)
			wg.Done()
		})
	}, 128, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer netmgrtls.StopListening(listener)

	addr := listener.LocalAddr().String()

	netmgrtls.Connect(m, "", addr, clientCfg, func(h *netio.Handle, err error) {
		if err != nil {
			t.Errorf("client tls connect error: %v", err)
			wg.Done()
			return
		}
		netmgrtls.Read(h, func(h *netio.Handle, err error, region []byte) {
			if err == nil {
				wg.Done()
			}
		})
		netmgrtls.Send(h, []byte("ping"), nil)
	}, 2*time.Second)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for TLS round trip")
	}
}
