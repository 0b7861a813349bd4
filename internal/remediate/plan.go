// Package remediate rotates the privileged credential on a fingerprinted host.
package remediate

import (
	"errors"
	"fmt"
	"strconv"

	"credsweep/internal/model"
)

var ErrUnsupportedClass = errors.New("unsupported device class")

// Mode is how a plan talks to the device.
type Mode int

const (
	// ModeShell sends every step down one interactive shell; CLI mode carries over between steps.
	ModeShell Mode = iota
	// ModeExec runs every step on its own exec channel.
	ModeExec
)

func (m Mode) String() string {
	if m == ModeExec {
		return "exec"
	}

	return "shell"
}

// Step is one command of a plan. In exec mode Stdin is written to the command's standard input;
// in shell mode it is the answer sent when the device prompts for input after Command.
type Step struct {
	Name    string
	Command string
	Stdin   string
	// Secret marks a Command that carries a password and must not be logged.
	Secret bool
}

type Plan struct {
	Class model.DeviceClass
	Mode  Mode
	Steps []Step
}

// Options are the device-side knobs of the built-in plans.
type Options struct {
	EnableCommand string
	ConfigCommand string
	SaveCommand   string
	Privilege     int

	// Sudo prefixes privileged commands and reads the old password from stdin. SudoCheck must
	// succeed exactly when Sudo would not ask for one.
	Sudo       string
	SudoCheck  string
	Shell      string
	AdminGroup string
}

func DefaultOptions() Options {
	return Options{
		EnableCommand: "enable",
		ConfigCommand: "configure terminal",
		SaveCommand:   "write memory",
		Privilege:     15,
		Sudo:          "sudo -k -S -p ''",
		SudoCheck:     "sudo -k -n true",
		Shell:         "/bin/bash",
		AdminGroup:    "sudo",
	}
}

// PlanFor maps a device class onto its fixed command plan. It never touches the network.
func PlanFor(class model.DeviceClass, creds model.CredentialPair, opts Options) (Plan, error) {
	switch class {
	case model.ClassNetworkOS:
		return networkOSPlan(creds, opts), nil
	case model.ClassUnixLike:
		return unixLikePlan(creds, opts), nil
	case model.ClassUnknown:
	}

	return Plan{Class: class}, fmt.Errorf("%w: %s", ErrUnsupportedClass, class)
}

func networkOSPlan(creds model.CredentialPair, opts Options) Plan {
	steps := []Step{
		{Name: "enable", Command: opts.EnableCommand, Stdin: creds.Old.Password},
		{Name: "configure", Command: opts.ConfigCommand},
		{
			Name: "create-user",
			Command: "username " + creds.New.Username + " privilege " + strconv.Itoa(opts.Privilege) +
				" secret " + creds.New.Password,
			Secret: true,
		},
	}

	if creds.RetiresOld() {
		steps = append(steps, Step{Name: "remove-user", Command: "no username " + creds.Old.Username})
	}

	steps = append(steps,
		Step{Name: "end-config", Command: "end"},
		Step{Name: "save-config", Command: opts.SaveCommand},
	)

	return Plan{Class: model.ClassNetworkOS, Mode: ModeShell, Steps: steps}
}

func unixLikePlan(creds model.CredentialPair, opts Options) Plan {
	sudoPass := ""
	if opts.Sudo != "" {
		sudoPass = creds.Old.Password + "\n"
	}

	user := creds.New.Username

	steps := []Step{
		{
			Name:    "create-user",
			Command: "id -u " + user + " >/dev/null 2>&1 || " + opts.elevate("useradd -m -s "+opts.Shell+" "+user),
			Stdin:   sudoPass,
		},
		{
			Name:    "set-password",
			Command: opts.elevate("chpasswd"),
			Stdin:   sudoPass + user + ":" + creds.New.Password + "\n",
		},
		{
			Name:    "grant-admin",
			Command: opts.elevate("usermod -aG " + opts.AdminGroup + " " + user),
			Stdin:   sudoPass,
		},
	}

	if creds.RetiresOld() {
		steps = append(steps, Step{
			Name:    "remove-user",
			Command: opts.elevate("userdel -f -r " + creds.Old.Username),
			Stdin:   sudoPass,
		})
	}

	return Plan{Class: model.ClassUnixLike, Mode: ModeExec, Steps: steps}
}

// elevate wraps cmd in Sudo. When SudoCheck shows sudo will not prompt (NOPASSWD rules, or a root
// login), the password line is read off stdin first so cmd never sees it.
func (o Options) elevate(cmd string) string {
	if o.Sudo == "" {
		return cmd
	}

	if o.SudoCheck == "" {
		return o.Sudo + " " + cmd
	}

	return "{ " + o.SudoCheck + " >/dev/null 2>&1 && read -r _; " + o.Sudo + " " + cmd + "; }"
}
