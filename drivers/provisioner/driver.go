// Package provisioner implements the board-provisioner driver contract
// of spec §6: bitstream upload and master boot against a TalonDX board,
// driven interactively over SSH with github.com/google/goexpect — the
// same session idiom the teacher used for vendor CLI configuration,
// repurposed here for a single bitstream/boot console flow instead of a
// multi-vendor command set.
package provisioner

import (
	"context"
	"fmt"
	"regexp"
	"time"

	expect "github.com/google/goexpect"
	"golang.org/x/crypto/ssh"
)

// CallResult is the {OK, FAIL} result of configure_board.
type CallResult string

const (
	CallOK   CallResult = "OK"
	CallFail CallResult = "FAIL"
)

// CallTimeout is the per-call timeout budget of spec §6 ("up to 60s").
const CallTimeout = 60 * time.Second

// BoardProvisioner is the driver contract consumed by TalonLRU's board.
type BoardProvisioner interface {
	ConfigureBoard(ctx context.Context, targetIP, bitstreamPath string, deviceServerList []string, masterFQDN string) (CallResult, error)
}

var bootPromptRE = regexp.MustCompile(`(?m)talon-boot[#>]\s*$`)

// SSHProvisioner is the production driver: it opens an SSH session to
// the board's boot console and drives the upload/boot sequence
// interactively, expecting the board's boot-console prompt at each step.
type SSHProvisioner struct {
	sshConfig *ssh.ClientConfig
	port      string
}

// NewSSHProvisioner creates a production provisioner using the given SSH
// client config (host key checking, auth) and console port.
func NewSSHProvisioner(cfg *ssh.ClientConfig, port string) *SSHProvisioner {
	if port == "" {
		port = "22"
	}
	return &SSHProvisioner{sshConfig: cfg, port: port}
}

func (p *SSHProvisioner) ConfigureBoard(ctx context.Context, targetIP, bitstreamPath string, deviceServerList []string, masterFQDN string) (CallResult, error) {
	client, err := ssh.Dial("tcp", targetIP+":"+p.port, p.sshConfig)
	if err != nil {
		return CallFail, fmt.Errorf("provisioner: dial %s: %w", targetIP, err)
	}
	defer client.Close()

	exp, _, err := expect.SpawnSSH(client, CallTimeout, expect.Verbose(false))
	if err != nil {
		return CallFail, fmt.Errorf("provisioner: spawn console session: %w", err)
	}
	defer exp.Close()

	if _, _, err := exp.Expect(bootPromptRE, CallTimeout); err != nil {
		return CallFail, fmt.Errorf("provisioner: boot console did not present a prompt: %w", err)
	}

	steps := []string{
		fmt.Sprintf("bitstream load %s", bitstreamPath),
		fmt.Sprintf("device-server-list %s", joinComma(deviceServerList)),
		fmt.Sprintf("master boot %s", masterFQDN),
	}
	for _, cmd := range steps {
		if err := exp.Send(cmd + "\n"); err != nil {
			return CallFail, fmt.Errorf("provisioner: send %q: %w", cmd, err)
		}
		if _, _, err := exp.Expect(bootPromptRE, CallTimeout); err != nil {
			return CallFail, fmt.Errorf("provisioner: no response to %q: %w", cmd, err)
		}
		select {
		case <-ctx.Done():
			return CallFail, ctx.Err()
		default:
		}
	}
	return CallOK, nil
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
