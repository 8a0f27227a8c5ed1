package ovpn

import (
	"os"
	"path/filepath"
	"strings"

	"relaycheck/internal/model"
)

// requiredForDiagnosis lists what a complete client configuration normally
// carries. Inline blocks (<ca>, <cert>, <key>) count as present.
var requiredForDiagnosis = []string{"remote", "client", "ca", "cert", "key"}

// MissingDirectives reports which of the usual client directives the text lacks.
func MissingDirectives(text string) []string {
	var missing []string
	for _, name := range requiredForDiagnosis {
		if _, ok := directive(text, name); ok {
			continue
		}
		if strings.Contains(text, "<"+name+">") {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

// LoadFile reads an existing configuration from disk for a standalone trial.
func LoadFile(path string) (model.TunnelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TunnelConfig{}, err
	}
	text := string(data)
	host, port := remote(text)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return model.TunnelConfig{
		Name:       filepath.Base(path),
		Text:       text,
		Proto:      proto(text),
		RemoteHost: host,
		Port:       port,
		Record:     model.EndpointRecord{Address: host},
		Path:       abs,
	}, nil
}
