// test-admin exercises the hidden admin channel end to end: connect over a
// spawned ssh PTY, run a couple of probe commands, disconnect.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/marinerapp/mariner/internal/adapters/realdialog"
	"github.com/marinerapp/mariner/internal/admin"
	"github.com/marinerapp/mariner/internal/config"
	"github.com/marinerapp/mariner/internal/engine"
	"github.com/marinerapp/mariner/internal/logging"
	"github.com/marinerapp/mariner/internal/security"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultConfigPath(), "config file path")
		host       = flag.String("host", "", "ssh host")
		user       = flag.String("user", "root", "ssh user")
		port       = flag.Int("port", 22, "ssh port")
		keyPath    = flag.String("key", "", "ssh private key path")
	)
	flag.Parse()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "usage: test-admin -host HOST [-user USER] [-port PORT] [-key PATH]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	credential := lookupCredential(cfg, *host, *user, *keyPath)
	defer security.WipeBytes(credential)

	mgr := admin.NewManager(admin.WithConnectTimeout(cfg.Timeouts.Connect))

	fmt.Printf("Connecting to %s@%s:%d ...\n", *user, *host, *port)
	err = mgr.Connect(admin.ConnectionInfo{
		Host:    *host,
		Port:    *port,
		User:    *user,
		KeyPath: *keyPath,
	}, credential)
	if err != nil {
		state, lastErr := mgr.State()
		fmt.Fprintf(os.Stderr, "connect failed: %v (state=%s, last=%v)\n", err, state, lastErr)
		os.Exit(1)
	}
	fmt.Println("Connected. Shell is ready.")

	for _, probe := range []string{"uname -a", "id", "echo $HOME"} {
		res, err := mgr.Execute(probe, cfg.Timeouts.Command)
		if err != nil {
			fmt.Fprintf(os.Stderr, "execute %q: %v\n", probe, err)
			continue
		}
		printResult(probe, res)
	}

	if err := mgr.Disconnect(); err != nil {
		fmt.Fprintf(os.Stderr, "disconnect: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Disconnected.")
}

// lookupCredential resolves the password for the target, preferring the
// keyring over an interactive prompt. Returns nil for key-only auth.
func lookupCredential(cfg *config.Config, host, user, keyPath string) []byte {
	if cfg.Security.UseKeyring {
		ks := security.NewKeyringStore()
		if pw, err := ks.GetServerPassword(host, user); err == nil && pw != nil {
			fmt.Println("(using password from OS keyring)")
			return pw
		}
	}
	if keyPath != "" {
		return nil
	}

	pw, err := realdialog.New().AskPassword(fmt.Sprintf("Password for %s@%s", user, host))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read password: %v\n", err)
		os.Exit(1)
	}
	return pw
}

func printResult(command string, res *engine.Result) {
	fmt.Printf("$ %s\n", command)
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	fmt.Printf("[exit %d, %s]\n", res.ExitCode, res.Elapsed.Round(1e6))
}
