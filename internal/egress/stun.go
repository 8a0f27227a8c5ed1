package egress

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
)

// STUNSource asks a STUN server for our mapped address.
// The mapped address belongs to the STUN socket; only its IP is reported.
type STUNSource struct {
	Server string
}

func (s *STUNSource) String() string { return s.Server }

func (s *STUNSource) Lookup(ctx context.Context) (string, error) {
	uriStr := strings.TrimSpace(s.Server)
	if uriStr == "" || uriStr == "stun:" {
		return "", fmt.Errorf("empty STUN server")
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	select {
	case addr := <-result:
		return addr.IP.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
