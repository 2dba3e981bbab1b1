// File: transport/doh/url_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package doh_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hioload/netmgr/transport/doh"
)

func TestParseURLDefaults(t *testing.T) {
	u, err := doh.ParseURL("https://dns.example.com/dns-query")
	require.NoError(t, err)
	require.True(t, u.TLS)
	require.Equal(t, "dns.example.com", u.Host)
	require.Equal(t, 443, u.Port)
	require.Equal(t, "/dns-query", u.Path)
}

func TestParseURLExplicitPortAndPlainHTTP(t *testing.T) {
	u, err := doh.ParseURL("http://127.0.0.1:8080/dns-query")
	require.NoError(t, err)
	require.False(t, u.TLS)
	require.Equal(t, "127.0.0.1", u.Host)
	require.Equal(t, 8080, u.Port)
}

func TestParseURLBracketedIPv6(t *testing.T) {
	u, err := doh.ParseURL("https://[2001:db8::1]:8443/dns-query")
	require.NoError(t, err)
	require.Equal(t, "2001:db8::1", u.Host)
	require.Equal(t, 8443, u.Port)
}

func TestParseDNSQueryParamLastWins(t *testing.T) {
	v, err := doh.ParseDNSQueryParam("?a=1&dns=AAAA&dns=BBBB")
	require.NoError(t, err)
	require.Equal(t, "BBBB", v)
}

func TestParseDNSQueryParamNoLeadingQuestionMark(t *testing.T) {
	v, err := doh.ParseDNSQueryParam("dns=AAAA")
	require.NoError(t, err)
	require.Equal(t, "AAAA", v)
}

func TestParseDNSQueryParamEmptyValueFails(t *testing.T) {
	_, err := doh.ParseDNSQueryParam("dns=")
	require.Error(t, err, "want error for empty dns value")
}

func TestParseDNSQueryParamInvalidPercentEscape(t *testing.T) {
	_, err := doh.ParseDNSQueryParam("dns=AA%GZ")
	require.Error(t, err, "want error for invalid percent escape")
}

func TestParseDNSQueryParamMissing(t *testing.T) {
	_, err := doh.ParseDNSQueryParam("a=1&b=2")
	require.Error(t, err, "want error when dns parameter absent")
}

func TestBase64URLRoundTrip(t *testing.T) {
	orig := "AAABAAABAAAAAAABA3d3dwdleGFtcGxlA2NvbQAAAQAB"
	std, _, err := doh.Base64URLToBase64(orig)
	require.NoError(t, err)
	back, _, err := doh.Base64ToBase64URL(std)
	require.NoError(t, err)
	require.Equal(t, orig, back, "round trip mismatch")
}

func TestBase64URLRejectsPercentAndPadding(t *testing.T) {
	_, _, err := doh.Base64URLToBase64("AA%20")
	require.Error(t, err, "want error for '%' in base64url input")

	_, _, err = doh.Base64URLToBase64("AA==")
	require.Error(t, err, "want error for '=' in base64url input")
}

func TestBase64RejectsURLChars(t *testing.T) {
	_, _, err := doh.Base64ToBase64URL("AA-_")
	require.Error(t, err, "want error for '-'/'_' in base64 input")
}

func TestEncodeDecodeGETBodyRoundTrip(t *testing.T) {
	body := []byte{0x00, 0x01, 0x02, 0xff, 0xfe}
	param, err := doh.EncodeGETBody(body)
	require.NoError(t, err)
	decoded, err := doh.DecodeGETBody(param)
	require.NoError(t, err)
	require.Equal(t, body, decoded, "round trip mismatch")
}
