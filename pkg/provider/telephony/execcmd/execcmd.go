// Package execcmd implements telephony.Provider by running external commands,
// so any dialer with a CLI can be plugged in. For ModemManager:
//
//	accounts: ["mmcli", "--list-modems"]
//	call:     ["sh", "-c", "mmcli -m any --voice-create-call=number=$0 | ...", "{number}"]
//
// Arguments may contain the placeholders {number} and {slot}; {slot} expands
// to the hinted slot or to the empty string when there is no hint.
package execcmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/hark/pkg/provider/telephony"
)

// PermissionExitCode is the conventional EX_NOPERM status. A command exiting
// with it is reported as telephony.ErrPermissionDenied.
const PermissionExitCode = 77

// Config describes the commands to run.
type Config struct {
	// AccountsCommand prints one account per line: an id, optionally followed
	// by whitespace and a label. Empty means a single default account.
	AccountsCommand []string

	// CallCommand dials. Required.
	CallCommand []string

	// Timeout bounds every command. Defaults to 15s.
	Timeout time.Duration
}

// Provider runs the configured commands.
type Provider struct {
	cfg Config
}

var _ telephony.Provider = (*Provider)(nil)

// New validates cfg and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if len(cfg.CallCommand) == 0 {
		return nil, errors.New("execcmd: call command must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Provider{cfg: cfg}, nil
}

// CallCapableAccounts implements telephony.Provider.
func (p *Provider) CallCapableAccounts(ctx context.Context) ([]telephony.Account, error) {
	if len(p.cfg.AccountsCommand) == 0 {
		return []telephony.Account{{ID: "default"}}, nil
	}
	out, err := p.run(ctx, p.cfg.AccountsCommand)
	if err != nil {
		return nil, fmt.Errorf("execcmd: list accounts: %w", err)
	}

	var accounts []telephony.Account
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, label, _ := strings.Cut(line, " ")
		accounts = append(accounts, telephony.Account{ID: id, Label: strings.TrimSpace(label)})
	}
	return accounts, nil
}

// PlaceCall implements telephony.Provider.
func (p *Provider) PlaceCall(ctx context.Context, number string, hint *telephony.AccountHint) error {
	if strings.TrimSpace(number) == "" {
		return errors.New("execcmd: empty number")
	}
	slot := ""
	if hint != nil {
		slot = strconv.Itoa(hint.Slot)
	}
	r := strings.NewReplacer("{number}", number, "{slot}", slot)
	args := make([]string, len(p.cfg.CallCommand))
	for i, a := range p.cfg.CallCommand {
		args[i] = r.Replace(a)
	}
	if _, err := p.run(ctx, args); err != nil {
		return fmt.Errorf("execcmd: call %s: %w", number, err)
	}
	return nil
}

func (p *Provider) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	if errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", telephony.ErrPermissionDenied, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if exitErr.ExitCode() == PermissionExitCode {
			return nil, fmt.Errorf("%w: %s", telephony.ErrPermissionDenied, msg)
		}
		return nil, fmt.Errorf("exit %d: %s", exitErr.ExitCode(), msg)
	}
	return nil, err
}
