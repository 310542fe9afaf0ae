package netu

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
)

// ResolveAddr turns a listen address such as ":8080" into a base URL that a
// client on the same node can call.
func ResolveAddr(addr string) (string, error) {
	if strings.Contains(addr, "://") {
		return addr, nil
	}

	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return "", err
	}

	host := "0.0.0.0"
	if resolved.IP != nil {
		host = resolved.IP.String()
	}

	switch resolved.Port {
	case 80:
		return "http://" + host, nil
	case 443:
		return "https://" + host, nil
	default:
		return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(resolved.Port))), nil
	}
}

// HostEnv overrides address discovery for workers behind NAT or in
// containers where the coordinator must use a specific address.
const HostEnv = "GRINDSTONE_NODE_HOST"

// NodeAddress returns the address other nodes should use to reach this
// process. The first resolver with an answer wins.
func NodeAddress() string {
	for _, resolve := range []func() string{
		func() string { return os.Getenv(HostEnv) },
		ecsTaskAddress,
		interfaceAddress,
		hostname,
	} {
		if addr := resolve(); addr != "" {
			return addr
		}
	}
	return "0.0.0.0"
}

func ecsTaskAddress() string {
	metadataURI := os.Getenv("ECS_CONTAINER_METADATA_URI_V4")
	if metadataURI == "" {
		return ""
	}
	resp, err := http.Get(metadataURI)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var metadata struct {
		Networks []struct {
			IPv4Addresses []string `json:"IPv4Addresses"`
		} `json:"Networks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return ""
	}
	for _, network := range metadata.Networks {
		if len(network.IPv4Addresses) > 0 {
			return network.IPv4Addresses[0]
		}
	}
	return ""
}

// First non-loopback IPv4 address.
func interfaceAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return ""
}

func hostname() string {
	name, _ := os.Hostname()
	return name
}
