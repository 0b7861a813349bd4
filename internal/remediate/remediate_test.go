package remediate

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsweep/internal/logger"
	"credsweep/internal/model"
	"credsweep/internal/session"
	"credsweep/internal/sshtest"
)

var rotate = model.CredentialPair{
	Old: model.Credential{Username: "admin", Password: "admin"},
	New: model.Credential{Username: "netops", Password: "S3cure!pw"},
}

// recordingSession counts every command that reaches the device.
type recordingSession struct {
	commands []string
	failOn   string
}

func (s *recordingSession) Exec(_ context.Context, cmd, _ string) (string, error) {
	s.commands = append(s.commands, cmd)

	if s.failOn != "" && strings.Contains(cmd, s.failOn) {
		return "", &session.ExitError{Command: cmd, Status: 1}
	}

	return "", nil
}

func (s *recordingSession) Shell(context.Context) (session.Shell, error) {
	s.commands = append(s.commands, "<shell>")
	return nil, session.ErrProtocol
}

func (s *recordingSession) Close() error { return nil }

func names(p Plan) []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Name)
	}

	return out
}

func TestPlanFor_EveryClassIsPlannedOrUnsupported(t *testing.T) {
	t.Parallel()

	for _, class := range model.AllDeviceClasses {
		plan, err := PlanFor(class, rotate, DefaultOptions())

		if err != nil {
			require.ErrorIs(t, err, ErrUnsupportedClass, class.String())
			assert.Empty(t, plan.Steps, class.String())

			continue
		}

		assert.Equal(t, class, plan.Class)
		assert.NotEmpty(t, plan.Steps, class.String())
	}
}

func TestPlanFor_NetworkOS(t *testing.T) {
	t.Parallel()

	plan, err := PlanFor(model.ClassNetworkOS, rotate, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, ModeShell, plan.Mode)
	assert.Equal(t, []string{"enable", "configure", "create-user", "remove-user", "end-config", "save-config"}, names(plan))
	assert.Equal(t, "admin", plan.Steps[0].Stdin)
	assert.Equal(t, "username netops privilege 15 secret S3cure!pw", plan.Steps[2].Command)
	assert.True(t, plan.Steps[2].Secret)
	assert.Equal(t, "no username admin", plan.Steps[3].Command)
	assert.Equal(t, "write memory", plan.Steps[5].Command)
}

func TestPlanFor_UnixLike(t *testing.T) {
	t.Parallel()

	plan, err := PlanFor(model.ClassUnixLike, rotate, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, ModeExec, plan.Mode)
	assert.Equal(t, []string{"create-user", "set-password", "grant-admin", "remove-user"}, names(plan))
	assert.Equal(t, "id -u netops >/dev/null 2>&1 || "+
		"{ sudo -k -n true >/dev/null 2>&1 && read -r _; sudo -k -S -p '' useradd -m -s /bin/bash netops; }",
		plan.Steps[0].Command)
	assert.Equal(t, "admin\nnetops:S3cure!pw\n", plan.Steps[1].Stdin)
	assert.NotContains(t, plan.Steps[1].Command, "S3cure!pw")
	assert.Equal(t, "{ sudo -k -n true >/dev/null 2>&1 && read -r _; sudo -k -S -p '' userdel -f -r admin; }",
		plan.Steps[3].Command)
}

func TestPlanFor_UnixLikeWithoutSudo(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Sudo = ""

	plan, err := PlanFor(model.ClassUnixLike, rotate, opts)
	require.NoError(t, err)

	assert.Equal(t, "chpasswd", plan.Steps[1].Command)
	assert.Equal(t, "netops:S3cure!pw\n", plan.Steps[1].Stdin)
	assert.Empty(t, plan.Steps[2].Stdin)
}

// fakeSudoScript stands in for sudo: it skips its flags, and unless nopasswd is set it fails
// under -n and otherwise reads one password line from stdin before running the command.
func fakeSudoScript(nopasswd bool) string {
	mode := "password"
	if nopasswd {
		mode = "nopasswd"
	}

	return `#!/bin/sh
noprompt=
while [ $# -gt 0 ]; do
  case "$1" in
    -n) noprompt=1; shift ;;
    -p) shift 2 ;;
    -*) shift ;;
    *) break ;;
  esac
done
if [ "` + mode + `" = password ]; then
  [ -n "$noprompt" ] && exit 1
  IFS= read -r pw || exit 1
  [ "$pw" = admin ] || exit 1
fi
exec "$@"
`
}

// runSetPassword runs the set-password step through a local shell with fake sudo and chpasswd on
// PATH, and returns what chpasswd read. Callers stay serial: writing an executable while another test forks can fail with ETXTBSY.
func runSetPassword(t *testing.T, nopasswd bool) (string, error) {
	t.Helper()

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}

	plan, err := PlanFor(model.ClassUnixLike, rotate, DefaultOptions())
	require.NoError(t, err)

	step := plan.Steps[1]
	require.Equal(t, "set-password", step.Name)

	dir := t.TempDir()
	got := filepath.Join(dir, "chpasswd.in")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sudo"), []byte(fakeSudoScript(nopasswd)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chpasswd"), []byte("#!/bin/sh\ncat > '"+got+"'\n"), 0o755))

	cmd := exec.Command(sh, "-c", step.Command)
	cmd.Env = append(os.Environ(), "PATH="+dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	cmd.Stdin = strings.NewReader(step.Stdin)

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%w: %s", err, out)
	}

	data, err := os.ReadFile(got)

	return string(data), err
}

func TestSetPassword_SudoAsksForPassword(t *testing.T) {
	in, err := runSetPassword(t, false)
	require.NoError(t, err)
	assert.Equal(t, "netops:S3cure!pw\n", in)
}

func TestSetPassword_NoPasswdSudo(t *testing.T) {
	in, err := runSetPassword(t, true)
	require.NoError(t, err)
	assert.Equal(t, "netops:S3cure!pw\n", in)
}

func TestPlanFor_SameUsernameKeepsAccount(t *testing.T) {
	t.Parallel()

	same := model.CredentialPair{Old: rotate.Old, New: model.Credential{Username: "admin", Password: "n3w"}}

	for _, class := range []model.DeviceClass{model.ClassNetworkOS, model.ClassUnixLike} {
		plan, err := PlanFor(class, same, DefaultOptions())
		require.NoError(t, err)

		assert.NotContains(t, names(plan), "remove-user", class.String())

		for _, s := range plan.Steps {
			assert.NotContains(t, s.Command, "no username", class.String())
			assert.NotContains(t, s.Command, "userdel", class.String())
		}
	}
}

func TestRemediate_UnknownSendsNothing(t *testing.T) {
	t.Parallel()

	sess := &recordingSession{}
	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassUnknown, rotate)

	assert.Equal(t, model.RemediationUnsupported, out.Status)
	require.ErrorIs(t, out.Err, ErrUnsupportedClass)
	assert.Empty(t, sess.commands)
}

func TestRemediate_FirstFailureStopsTheRest(t *testing.T) {
	t.Parallel()

	sess := &recordingSession{failOn: "usermod"}
	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassUnixLike, rotate)

	assert.Equal(t, model.RemediationFailed, out.Status)
	assert.Equal(t, "grant-admin", out.FailedStep)
	assert.Len(t, sess.commands, 3)

	var stepErr *StepError
	require.ErrorAs(t, out.Err, &stepErr)

	var exitErr *session.ExitError
	assert.True(t, errors.As(out.Err, &exitErr))
}

func TestRemediate_ShellUnavailable(t *testing.T) {
	t.Parallel()

	sess := &recordingSession{}
	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassNetworkOS, rotate)

	assert.Equal(t, model.RemediationFailed, out.Status)
	assert.Equal(t, "open-shell", out.FailedStep)
}

func TestAwaitingInput(t *testing.T) {
	t.Parallel()

	assert.True(t, AwaitingInput("\r\nPassword: "))
	assert.True(t, AwaitingInput("Do you want to continue? [confirm]"))
	assert.False(t, AwaitingInput("\r\nR1#"))
	assert.False(t, AwaitingInput(""))
}

func dialMock(t *testing.T, opts sshtest.Options) (*sshtest.Server, session.Session) {
	t.Helper()

	opts.Users = map[string]string{"admin": "admin"}

	srv, err := sshtest.Start("127.0.0.1:0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	d, err := session.NewSSHDialer(session.DialerOptions{Port: srv.Addr().Port, Timeout: 3 * time.Second},
		logger.NewTestLogger())
	require.NoError(t, err)

	sess, err := d.Dial(context.Background(), netip.MustParseAddr("127.0.0.1"), rotate.Old)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	return srv, sess
}

func TestRemediate_NetworkOSAgainstMock(t *testing.T) {
	t.Parallel()

	srv, sess := dialMock(t, sshtest.Options{Persona: sshtest.PersonaNetworkOS, Hostname: "R1", EnableSecret: "admin"})

	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassNetworkOS, rotate)
	require.NoError(t, out.Err)
	assert.Equal(t, model.RemediationSuccess, out.Status)

	assert.Equal(t, []string{
		"enable",
		"admin",
		"configure terminal",
		"username netops privilege 15 secret S3cure!pw",
		"no username admin",
		"",
		"end",
		"write memory",
	}, srv.Commands())
}

func TestRemediate_NetworkOSSaveFailure(t *testing.T) {
	t.Parallel()

	_, sess := dialMock(t, sshtest.Options{
		Persona:  sshtest.PersonaNetworkOS,
		Hostname: "R1",
		FailOn:   map[string]string{"write memory": "% Error opening nvram:/startup-config (Device or resource busy)"},
	})

	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassNetworkOS, rotate)

	assert.Equal(t, model.RemediationFailed, out.Status)
	assert.Equal(t, "save-config", out.FailedStep)
	require.ErrorIs(t, out.Err, ErrDeviceRejected)
	assert.Contains(t, out.Err.Error(), "nvram")
}

func TestRemediate_WrongEnableSecret(t *testing.T) {
	t.Parallel()

	srv, sess := dialMock(t, sshtest.Options{Persona: sshtest.PersonaNetworkOS, EnableSecret: "other"})

	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassNetworkOS, rotate)

	assert.Equal(t, model.RemediationFailed, out.Status)
	assert.Equal(t, "enable", out.FailedStep)
	require.ErrorIs(t, out.Err, ErrDeviceRejected)
	assert.Equal(t, []string{"enable", "admin"}, srv.Commands())
}

// repromptShell keeps asking for the enable secret, as IOS does after a wrong one.
type repromptShell struct {
	sent []string
}

func (s *repromptShell) Send(_ context.Context, line string) (string, error) {
	s.sent = append(s.sent, line)

	if len(s.sent) < 3 {
		return "\r\nPassword: ", nil
	}

	return "\r\n% Bad secrets\r\n\r\nR1>", nil
}

func (s *repromptShell) Close() error { return nil }

type shellSession struct {
	shell session.Shell
}

func (s *shellSession) Exec(context.Context, string, string) (string, error) {
	return "", errors.New("exec not supported")
}

func (s *shellSession) Shell(context.Context) (session.Shell, error) { return s.shell, nil }

func (s *shellSession) Close() error { return nil }

func TestRemediate_RepeatedPromptFailsTheAnsweringStep(t *testing.T) {
	t.Parallel()

	sh := &repromptShell{}
	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(),
		&shellSession{shell: sh}, model.ClassNetworkOS, rotate)

	assert.Equal(t, model.RemediationFailed, out.Status)
	assert.Equal(t, "enable", out.FailedStep)
	require.ErrorIs(t, out.Err, ErrDeviceRejected)
	assert.Equal(t, []string{"enable", "admin"}, sh.sent)
}

func TestRemediate_UnixAgainstMock(t *testing.T) {
	t.Parallel()

	srv, sess := dialMock(t, sshtest.Options{Persona: sshtest.PersonaUnix})

	same := model.CredentialPair{Old: rotate.Old, New: model.Credential{Username: "admin", Password: "n3w"}}

	out := NewEngine(DefaultOptions(), logger.NewTestLogger()).Remediate(context.Background(), sess, model.ClassUnixLike, same)
	require.NoError(t, out.Err)
	assert.Equal(t, model.RemediationSuccess, out.Status)

	require.Len(t, srv.Commands(), 3)
	assert.Contains(t, srv.Stdin(), "admin\nadmin:n3w\n")

	for _, cmd := range srv.Commands() {
		assert.NotContains(t, cmd, "userdel")
	}
}
