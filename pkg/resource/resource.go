package resource

import (
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
)

// CPUToNanoCPUs converts an operator CPU value to Docker NanoCPUs.
// Accepts fractional cores ("0.5", "1") and Kubernetes-style milli-notation
// ("500m", divided by 1000 before scaling). Non-positive or unparsable
// values yield nil, meaning no limit.
func CPUToNanoCPUs(value string) *int64 {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return nil
	}

	var cores float64
	var err error
	if strings.HasSuffix(s, "m") {
		var milli float64
		milli, err = strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		cores = milli / 1000.0
	} else {
		cores, err = strconv.ParseFloat(s, 64)
	}
	if err != nil {
		logger := log.WithComponent("resource")
		logger.Warn().
			Str("cpu", value).
			Msg("unparsable cpu value, running without a cpu limit")
		return nil
	}
	if cores <= 0 {
		return nil
	}

	nano := int64(cores * 1e9)
	return &nano
}

// MemoryToBytes converts a memory limit string ("512m", "2g", "1024")
// to bytes. Unparsable or non-positive values yield nil, meaning no limit.
func MemoryToBytes(value string) *int64 {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil
	}

	bytes, err := units.RAMInBytes(s)
	if err != nil {
		logger := log.WithComponent("resource")
		logger.Warn().
			Str("memory", value).
			Msg("unparsable memory value, running without a memory limit")
		return nil
	}
	if bytes <= 0 {
		return nil
	}
	return &bytes
}

// NormalizePorts converts a container-port to host-port map into engine bind
// specs. A host port of 0 becomes an auto-assign binding. An empty map
// yields nil sets: no port configuration at all, rather than an explicit
// empty one.
func NormalizePorts(ports map[string]int) (nat.PortSet, nat.PortMap) {
	if len(ports) == 0 {
		return nil, nil
	}

	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for cport, hport := range ports {
		key := nat.Port(normalizePortKey(cport))
		exposed[key] = struct{}{}

		binding := nat.PortBinding{}
		if hport > 0 {
			binding.HostPort = strconv.Itoa(hport)
		}
		bindings[key] = []nat.PortBinding{binding}
	}
	return exposed, bindings
}

// normalizePortKey appends the default tcp protocol when the operator
// wrote a bare port number.
func normalizePortKey(cport string) string {
	if strings.Contains(cport, "/") {
		return cport
	}
	return cport + "/tcp"
}
