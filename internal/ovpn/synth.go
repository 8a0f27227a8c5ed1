package ovpn

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relaycheck/internal/model"
)

const (
	DefaultProto = "udp"
	DefaultPort  = 1194

	// CredentialsFileName is the shared credentials file referenced by every
	// synthesized configuration. It sits next to the configs.
	CredentialsFileName = "auth.txt"
)

var (
	ErrDecode         = errors.New("payload decodes to nothing")
	ErrInvalidPayload = errors.New("payload is not a client tunnel definition")
)

// standardDirectives are appended when the feed's config does not mention them.
var standardDirectives = []string{
	"persist-key",
	"persist-tun",
	"nobind",
	"remote-cert-tls server",
	"verb 3",
}

// Credentials populate the shared credentials file.
type Credentials struct {
	Login    string
	Password string
}

// Synthesize decodes the record's payload and completes it into a runnable
// client configuration. Directives already present in the payload win.
func Synthesize(rec model.EndpointRecord, creds Credentials) (model.TunnelConfig, error) {
	text, err := decode(rec.ConfigPayload)
	if err != nil {
		return model.TunnelConfig{}, err
	}
	if !strings.Contains(text, "client") || !strings.Contains(text, "remote ") {
		return model.TunnelConfig{}, ErrInvalidPayload
	}

	var b strings.Builder
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	if _, ok := directive(text, "auth-user-pass"); !ok {
		fmt.Fprintf(&b, "# credentials login: %s\n", creds.Login)
		b.WriteString("auth-user-pass ")
		b.WriteString(CredentialsFileName)
		b.WriteString("\n")
	}
	for _, d := range standardDirectives {
		if _, ok := directive(text, strings.Fields(d)[0]); !ok {
			b.WriteString(d)
			b.WriteString("\n")
		}
	}

	host, port := remote(text)
	return model.TunnelConfig{
		Name:       SafeName(rec.Address, rec.CountryCode),
		Text:       b.String(),
		Proto:      proto(text),
		RemoteHost: host,
		Port:       port,
		Record:     rec,
	}, nil
}

func decode(payload string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(data) == 0 {
		return "", ErrDecode
	}
	return string(data), nil
}

// SafeName derives the deterministic file name for a candidate.
func SafeName(address, countryCode string) string {
	return "vpngate_" + sanitize(address) + "_" + sanitize(countryCode) + ".ovpn"
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

// directive returns the arguments of the first line starting with name.
func directive(text, name string) ([]string, bool) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return fields[1:], true
		}
	}
	return nil, false
}

func proto(text string) string {
	args, ok := directive(text, "proto")
	if !ok || len(args) == 0 {
		return DefaultProto
	}
	// tcp-client and udp4/udp6 variants collapse to the transport family.
	switch p := strings.ToLower(args[0]); {
	case strings.HasPrefix(p, "tcp"):
		return "tcp"
	case strings.HasPrefix(p, "udp"):
		return "udp"
	default:
		return DefaultProto
	}
}

func remote(text string) (string, int) {
	args, ok := directive(text, "remote")
	if !ok || len(args) == 0 {
		return "", DefaultPort
	}
	port := DefaultPort
	if len(args) > 1 {
		if p, err := strconv.Atoi(args[1]); err == nil && p > 0 && p < 65536 {
			port = p
		}
	}
	return args[0], port
}
