package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures how SSHDialer authenticates and verifies hosts.
type SSHConfig struct {
	User                  string
	Port                  int
	IdentityFiles         []string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	ConnectTimeout        time.Duration
	// ReadKey loads a private key file. Defaults to os.ReadFile; callers plug
	// in decryption for encrypted keys.
	ReadKey func(path string) ([]byte, error)
}

// SSHDialer opens SSH sessions. Authentication tries the ssh-agent at
// SSH_AUTH_SOCK first, then each identity file.
type SSHDialer struct {
	Config SSHConfig
	Logger *slog.Logger
}

func (d *SSHDialer) Dial(ctx context.Context, host string) (Session, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	user, addr := d.splitHost(host)

	auth, closeAgent, err := d.authMethods()
	if err != nil {
		return nil, fmt.Errorf("%s: ssh auth: %w", host, err)
	}
	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("%s: ssh host keys: %w", host, err)
	}

	timeout := d.Config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	logger.Debug("ssh dial", "host", host, "addr", addr, "user", user)
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("%s: dial: %w", host, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		closeAgent()
		return nil, fmt.Errorf("%s: ssh handshake: %w", host, err)
	}
	return &sshSession{
		name:       host,
		client:     ssh.NewClient(c, chans, reqs),
		logger:     logger,
		closeAgent: closeAgent,
	}, nil
}

// splitHost parses "[user@]host[:port]" using the config for the defaults.
func (d *SSHDialer) splitHost(host string) (user, addr string) {
	user = d.Config.User
	if at := strings.LastIndex(host, "@"); at >= 0 {
		user, host = host[:at], host[at+1:]
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return user, host
	}
	port := d.Config.Port
	if port == 0 {
		port = 22
	}
	return user, net.JoinHostPort(host, strconv.Itoa(port))
}

func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closeAgent = func() { conn.Close() }
		}
	}

	readKey := d.Config.ReadKey
	if readKey == nil {
		readKey = os.ReadFile
	}
	var signers []ssh.Signer
	for _, file := range d.Config.IdentityFiles {
		data, err := readKey(file)
		if err != nil {
			closeAgent()
			return nil, nil, fmt.Errorf("read identity %s: %w", file, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			closeAgent()
			return nil, nil, fmt.Errorf("parse identity %s: %w", file, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, nil, errors.New("no ssh-agent and no identity files configured")
	}
	return methods, closeAgent, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.Config.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := d.Config.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		file = path.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(file)
}

type sshSession struct {
	name       string
	client     *ssh.Client
	logger     *slog.Logger
	closeAgent func()
}

func (s *sshSession) Host() string { return s.name }

func (s *sshSession) Close() error {
	s.closeAgent()
	return s.client.Close()
}

func (s *sshSession) Run(ctx context.Context, command string, elevated bool) (Result, error) {
	line := command
	if elevated {
		line = Elevate(command)
	}
	s.logger.Debug("run", "host", s.name, "command", line)
	return s.exec(ctx, command, line, nil)
}

// exec runs line in a fresh SSH session; command is the caller-facing form
// recorded in the result.
func (s *sshSession) exec(ctx context.Context, command, line string, stdin *os.File) (Result, error) {
	res := Result{Host: s.name, Command: command}
	sess, err := s.client.NewSession()
	if err != nil {
		return res, fmt.Errorf("%s: open session: %w", s.name, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGKILL)
			sess.Close()
		case <-done:
		}
	}()

	runErr := sess.Run(line)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if runErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: run %q: %w", s.name, command, ctx.Err())
	}
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	}
	return res, fmt.Errorf("%s: run %q: %w", s.name, command, runErr)
}

func (s *sshSession) Exists(ctx context.Context, p string) (bool, error) {
	res, err := s.exec(ctx, existsCommand(p), existsCommand(p), nil)
	if err != nil {
		return false, err
	}
	return existsFromResult(res)
}

func (s *sshSession) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Host: s.name, Op: "upload", Path: remotePath, Err: err}
	}
	defer f.Close()

	line := fmt.Sprintf("mkdir -p %s && cat > %s", Quote(path.Dir(remotePath)), Quote(remotePath))
	s.logger.Debug("upload", "host", s.name, "src", localPath, "dst", remotePath)
	res, err := s.exec(ctx, line, line, f)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		return &TransferError{Host: s.name, Op: "upload", Path: remotePath, Err: err}
	}
	return nil
}

func (s *sshSession) AppendLine(ctx context.Context, remotePath, line string, elevated bool) error {
	res, err := s.Run(ctx, appendLineCommand(remotePath, line), elevated)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		return &TransferError{Host: s.name, Op: "append", Path: remotePath, Err: err}
	}
	return nil
}
