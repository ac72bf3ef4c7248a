// mariner-shell opens a local or remote shell session and runs commands
// typed on stdin through the execution engine, printing structured results.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/marinerapp/mariner/internal/adapters/realdialog"
	"github.com/marinerapp/mariner/internal/config"
	"github.com/marinerapp/mariner/internal/engine"
	"github.com/marinerapp/mariner/internal/logging"
	"github.com/marinerapp/mariner/internal/security"
	"github.com/marinerapp/mariner/internal/transport"
	"github.com/marinerapp/mariner/internal/transport/ptytransport"
	"github.com/marinerapp/mariner/internal/transport/sshtransport"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultConfigPath(), "config file path")
		serverName = flag.String("server", "", "configured server name (implies ssh mode)")
		mode       = flag.String("mode", "local", "session mode: local or ssh")
		host       = flag.String("host", "", "ssh host (overrides config)")
		user       = flag.String("user", "", "ssh user")
		port       = flag.Int("port", 22, "ssh port")
		keyPath    = flag.String("key", "", "ssh private key path")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("invalid config: %v", err)
	}

	level := cfg.Logging.Level
	if *debug {
		level = "debug"
	}
	logging.Setup(level, cfg.Logging.Sanitize)

	eng := engine.New(
		engine.WithBufferLimit(cfg.Output.BufferLimit),
		engine.WithSettleDelay(cfg.Timeouts.Settle),
		engine.WithPasswordTTL(cfg.Security.PasswordCacheTTL),
		engine.WithMaxSessions(cfg.Security.MaxSessions),
	)
	for _, p := range cfg.PromptDetection.CustomPatterns {
		if err := eng.Detector().AddPatternFromConfig(p.Name, p.Regex, p.Kind, p.Response); err != nil {
			fatalf("prompt pattern: %v", err)
		}
	}

	srv := serverFromFlags(cfg, *serverName, *mode, *host, *user, *port, *keyPath)

	tr, password, err := openTransport(cfg, srv)
	if err != nil {
		fatalf("open session: %v", err)
	}
	defer tr.Close()

	session, err := eng.Attach("shell-1", tr)
	if err != nil {
		fatalf("attach session: %v", err)
	}
	defer eng.Detach("shell-1")
	if password != nil {
		session.SetPassword(password)
		security.WipeBytes(password)
	}
	if srv != nil && srv.RunAsRoot {
		session.SetRunAsRoot(true)
	}

	fmt.Println("mariner shell ready. Type commands, 'exit' to quit.")
	repl(session, cfg)
}

// serverFromFlags resolves the target: a named config entry, ad-hoc ssh
// flags, or nil for a local shell.
func serverFromFlags(cfg *config.Config, name, mode, host, user string, port int, keyPath string) *config.ServerConfig {
	if name != "" {
		srv, ok := cfg.Server(name)
		if !ok {
			fatalf("server %q not found in config", name)
		}
		return &srv
	}
	if mode == "ssh" || host != "" {
		if host == "" {
			fatalf("ssh mode requires -host or -server")
		}
		return &config.ServerConfig{Name: host, Host: host, Port: port, User: user, KeyPath: keyPath}
	}
	return nil
}

// openTransport builds the transport and resolves the credential the engine
// should answer password prompts with.
func openTransport(cfg *config.Config, srv *config.ServerConfig) (transport.Transport, []byte, error) {
	if srv == nil {
		tr, err := ptytransport.Start(ptytransport.ShellOptions())
		return tr, nil, err
	}

	password := resolvePassword(cfg, srv)
	tr, err := sshtransport.Dial(sshtransport.Options{
		Host:     srv.Host,
		Port:     srv.Port,
		User:     srv.User,
		KeyPath:  srv.KeyPath,
		Password: string(password),
	})
	if err != nil {
		return nil, nil, err
	}
	return tr, password, nil
}

// resolvePassword tries, in order: the configured environment variable, the
// OS keyring, and finally an interactive prompt.
func resolvePassword(cfg *config.Config, srv *config.ServerConfig) []byte {
	if srv.PasswordEnv != "" {
		if v := os.Getenv(srv.PasswordEnv); v != "" {
			return []byte(v)
		}
	}

	if cfg.Security.UseKeyring {
		ks := security.NewKeyringStore()
		if pw, err := ks.GetServerPassword(srv.Host, srv.User); err == nil && pw != nil {
			return pw
		}
	}

	if srv.KeyPath != "" {
		// Key auth; prompt only if the connection asks later.
		return nil
	}

	dialog := realdialog.New()
	pw, err := dialog.AskPassword(fmt.Sprintf("Password for %s@%s", srv.User, srv.Host))
	if err != nil {
		fatalf("read password: %v", err)
	}

	if cfg.Security.UseKeyring && len(pw) > 0 {
		ks := security.NewKeyringStore()
		if err := ks.StoreServerPassword(srv.Host, srv.User, pw); err == nil {
			fmt.Println("(password saved to OS keyring)")
		}
	}
	return pw
}

func repl(session *engine.Session, cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		timeout := cfg.Timeouts.Command
		// Package-manager commands get the longer install timeout.
		if strings.Contains(line, "apt") || strings.Contains(line, "yum ") || strings.Contains(line, "dnf ") {
			timeout = cfg.Timeouts.Install
		}

		res, err := session.Execute(line, timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			if err == engine.ErrSessionClosed {
				return
			}
			continue
		}

		if res.Output != "" {
			fmt.Println(res.Output)
		}
		status := fmt.Sprintf("[exit %d, %s]", res.ExitCode, res.Elapsed.Round(1e6))
		if res.TimedOut {
			status = fmt.Sprintf("[timed out after %s]", res.Elapsed.Round(1e6))
		}
		fmt.Println(status)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
