package messaging

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Identity names the queue manager to connect to and how to reach it.
// It must not change once a session has been opened with it.
type Identity struct {
	QueueManager string
	Endpoint     string // host:port or host(port)
	Channel      string
	UserID       string
	Password     string
	AppName      string
}

// Validate checks that the identity can be used to connect
func (i Identity) Validate() error {
	if i.QueueManager == "" {
		return fmt.Errorf("%w: queue manager is required", ErrInvalidConfiguration)
	}
	if _, _, err := i.HostPort(); err != nil {
		return err
	}
	if i.Password != "" && i.UserID == "" {
		return fmt.Errorf("%w: password given without user id", ErrInvalidConfiguration)
	}
	return nil
}

// HostPort splits the endpoint. Both "host:port" and the queue manager
// style "host(port)" are accepted.
func (i Identity) HostPort() (string, int, error) {
	ep := strings.TrimSpace(i.Endpoint)
	if ep == "" {
		return "", 0, fmt.Errorf("%w: endpoint is required", ErrInvalidConfiguration)
	}

	var host, port string
	if open := strings.IndexByte(ep, '('); open > 0 && strings.HasSuffix(ep, ")") {
		host, port = ep[:open], ep[open+1:len(ep)-1]
	} else {
		var err error
		host, port, err = net.SplitHostPort(ep)
		if err != nil {
			return "", 0, fmt.Errorf("%w: endpoint %q: %v", ErrInvalidConfiguration, ep, err)
		}
	}

	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", 0, fmt.Errorf("%w: endpoint %q has invalid port", ErrInvalidConfiguration, ep)
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: endpoint %q has no host", ErrInvalidConfiguration, ep)
	}
	return host, n, nil
}

// String describes the identity without credentials
func (i Identity) String() string {
	return fmt.Sprintf("%s@%s (channel %s)", i.QueueManager, i.Endpoint, i.Channel)
}
