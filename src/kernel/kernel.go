package kernel

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/meshnetworks/toll/src/meter"
	"github.com/sirupsen/logrus"
)

// Runner executes an external command and returns its combined output. It is
// a seam for tests, which substitute canned output for real wg/ip6tables
// invocations.
type Runner func(name string, arg ...string) ([]byte, error)

// ExecRunner runs commands for real.
func ExecRunner(name string, arg ...string) ([]byte, error) {
	return exec.Command(name, arg...).CombinedOutput()
}

// Interface wraps the kernel-facing shell commands the engine depends on:
// WireGuard counter and handshake reads, and ip6tables forwarding control.
type Interface struct {
	run    Runner
	logger *logrus.Entry
}

// NewInterface ...
func NewInterface(run Runner, logger *logrus.Entry) *Interface {
	if run == nil {
		run = ExecRunner
	}
	return &Interface{
		run:    run,
		logger: logger.WithField("prefix", "kernel"),
	}
}

// WgTransfer reads the cumulative transfer counters of every peer on a
// WireGuard interface. Output lines are "<pubkey>\t<rx bytes>\t<tx bytes>".
func (k *Interface) WgTransfer(iface string) (map[string]meter.Usage, error) {
	out, err := k.run("wg", "show", iface, "transfer")
	if err != nil {
		return nil, fmt.Errorf("wg show %s transfer: %v", iface, err)
	}

	return parseTransfer(string(out))
}

// WgLatestHandshakes reads the last handshake time of every peer on a
// WireGuard interface. Output lines are "<pubkey>\t<unix seconds>"; zero
// means no handshake has completed yet.
func (k *Interface) WgLatestHandshakes(iface string) (map[string]time.Time, error) {
	out, err := k.run("wg", "show", iface, "latest-handshakes")
	if err != nil {
		return nil, fmt.Errorf("wg show %s latest-handshakes: %v", iface, err)
	}

	return parseHandshakes(string(out))
}

// DisableForwarding blocks forwarded traffic to and from a neighbor's mesh
// IP.
func (k *Interface) DisableForwarding(meshIP string) error {
	k.logger.WithField("mesh_ip", meshIP).Info("Disabling forwarding")

	if _, err := k.run("ip6tables", "-w", "-I", "FORWARD", "1", "-s", meshIP, "-j", "DROP"); err != nil {
		return err
	}
	_, err := k.run("ip6tables", "-w", "-I", "FORWARD", "1", "-d", meshIP, "-j", "DROP")
	return err
}

// EnableForwarding removes the block installed by DisableForwarding.
func (k *Interface) EnableForwarding(meshIP string) error {
	k.logger.WithField("mesh_ip", meshIP).Info("Enabling forwarding")

	if _, err := k.run("ip6tables", "-w", "-D", "FORWARD", "-s", meshIP, "-j", "DROP"); err != nil {
		return err
	}
	_, err := k.run("ip6tables", "-w", "-D", "FORWARD", "-d", meshIP, "-j", "DROP")
	return err
}

func parseTransfer(out string) (map[string]meter.Usage, error) {
	res := make(map[string]meter.Usage)

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected wg transfer line %q", line)
		}

		rx, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, err
		}
		tx, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, err
		}

		res[fields[0]] = meter.Usage{Rx: rx, Tx: tx}
	}

	return res, nil
}

func parseHandshakes(out string) (map[string]time.Time, error) {
	res := make(map[string]time.Time)

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("unexpected wg handshake line %q", line)
		}

		unix, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, err
		}

		if unix == 0 {
			res[fields[0]] = time.Time{}
		} else {
			res[fields[0]] = time.Unix(unix, 0)
		}
	}

	return res, nil
}
