// Package main provides the entry point for the Softcodes auth bridge CLI.
// It drives the PKCE sign-in flow against the Softcodes backend, manages the
// durable credential store shared with the VS Code extension, and exposes
// session maintenance commands (validate, whoami, logout).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mathhhys/softcodes-vsc/internal/api"
	"github.com/mathhhys/softcodes-vsc/internal/auth/callback"
	"github.com/mathhhys/softcodes-vsc/internal/auth/session"
	"github.com/mathhhys/softcodes-vsc/internal/browser"
	"github.com/mathhhys/softcodes-vsc/internal/buildinfo"
	"github.com/mathhhys/softcodes-vsc/internal/config"
	"github.com/mathhhys/softcodes-vsc/internal/logging"
	"github.com/mathhhys/softcodes-vsc/internal/secret"
	"github.com/mathhhys/softcodes-vsc/internal/util"
	"github.com/mathhhys/softcodes-vsc/internal/watcher"
)

// callbackTimeout bounds how long the login command waits for the browser
// redirect before giving up. Server-issued tickets expire server-side as
// well, so this only bounds the local wait.
const callbackTimeout = 5 * time.Minute

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var login bool
	var logout bool
	var validate bool
	var whoami bool
	var noBrowser bool
	var callbackPort int
	var configPath string

	flag.BoolVar(&login, "login", false, "Sign in to Softcodes using OAuth")
	flag.BoolVar(&logout, "logout", false, "Sign out and clear stored credentials")
	flag.BoolVar(&validate, "validate", false, "Check whether the stored session is still valid")
	flag.BoolVar(&whoami, "whoami", false, "Show the signed-in user")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the browser automatically; print and copy the URL instead")
	flag.IntVar(&callbackPort, "callback-port", 0, "Override the loopback callback port")
	flag.StringVar(&configPath, "config", defaultConfigPath(), "Configuration file path")
	flag.Parse()

	// Environment overrides may live in a .env alongside the binary.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if callbackPort > 0 {
		cfg.CallbackPort = callbackPort
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := secret.NewFileStore(cfg.AuthDir)
	manager := session.NewManager(ctx, cfg, store,
		session.WithHTTPClient(util.NewHTTPClient(cfg)),
		session.WithBrowserOpener(browser.OpenURL),
		session.WithErrorReporter(func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		}),
	)

	if configWatcher, errWatch := watcher.NewWatcher(configPath, manager.SetConfig); errWatch == nil {
		if errStart := configWatcher.Start(ctx); errStart == nil {
			defer func() { _ = configWatcher.Stop() }()
		}
	}

	switch {
	case login:
		runLogin(ctx, cfg, manager, noBrowser)
	case logout:
		_ = manager.SignOut(ctx)
		fmt.Println("Signed out.")
	case validate:
		if manager.ValidateSession(ctx) {
			fmt.Println("Session is valid.")
		} else {
			fmt.Println("Session is not valid.")
			os.Exit(1)
		}
	case whoami:
		runWhoami(ctx, cfg, manager)
	default:
		fmt.Printf("softcodes-auth %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		fmt.Printf("State: %s\n", manager.State())
		flag.Usage()
	}
}

// runLogin drives the full browser flow: a loopback callback server stands in
// for the vscode:// handler, the backend-issued authorization URL opens in
// the browser, and the redirect (or a pasted callback URL) completes the
// exchange.
func runLogin(ctx context.Context, cfg *config.Config, manager *session.Manager, noBrowser bool) {
	srv := callback.NewServer(cfg.CallbackPort)
	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start callback server: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	// The CLI cannot receive vscode:// redirects; route the flow through the
	// loopback server instead.
	cfg.RedirectURI = srv.RedirectURI()

	if noBrowser {
		manager.SetBrowserOpener(func(authURL string) error {
			fmt.Printf("Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
			if err := browser.CopyURL(authURL); err == nil {
				fmt.Println("(the URL has been copied to your clipboard)")
			}
			return nil
		})
	}

	if err := manager.Authenticate(ctx); err != nil {
		os.Exit(1)
	}

	results := make(chan *callback.Result, 2)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := srv.Wait(gctx, callbackTimeout)
		if err != nil {
			return err
		}
		select {
		case results <- result:
		default:
		}
		return nil
	})
	go promptForPastedCallback(gctx, results)

	groupErr := make(chan error, 1)
	go func() { groupErr <- g.Wait() }()

	var result *callback.Result
	select {
	case result = <-results:
	case err := <-groupErr:
		if err != nil {
			log.Fatalf("authentication failed: %v", err)
		}
		result = <-results
	case <-ctx.Done():
		log.Fatal("authentication canceled")
	}

	if result.Error != "" {
		log.Fatalf("authentication failed: %s", result.Error)
	}
	if err := manager.HandleCallback(ctx, result.Code, result.State); err != nil {
		os.Exit(1)
	}

	fmt.Println("Signed in.")
	if info := manager.GetUserInfo(ctx); info != nil {
		printUserInfo(info)
	}
}

// promptForPastedCallback accepts a callback URL pasted on stdin as a
// fallback when the browser cannot reach the loopback server.
func promptForPastedCallback(ctx context.Context, results chan<- *callback.Result) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Waiting for browser sign-in... (or paste the callback URL here)")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		result, errParse := callback.Parse(strings.TrimSpace(line))
		if errParse != nil || result == nil {
			fmt.Println("Could not parse that callback URL, try again.")
			continue
		}
		select {
		case results <- result:
		default:
		}
		return
	}
}

func runWhoami(ctx context.Context, cfg *config.Config, manager *session.Manager) {
	client := api.NewClient(cfg, manager, util.NewHTTPClient(cfg), nil)
	if _, err := client.Request(ctx, "/api/auth/user-info", nil); err != nil {
		fmt.Println("Not signed in.")
		os.Exit(1)
	}
	if info := manager.GetUserInfo(ctx); info != nil {
		printUserInfo(info)
		return
	}
	fmt.Println("Not signed in.")
	os.Exit(1)
}

func printUserInfo(info *session.UserInfo) {
	name := strings.TrimSpace(info.FirstName + " " + info.LastName)
	if name != "" {
		fmt.Printf("User: %s <%s>\n", name, info.Email)
	} else {
		fmt.Printf("User: %s\n", info.Email)
	}
	if info.OrganizationName != "" {
		fmt.Printf("Organization: %s\n", info.OrganizationName)
	} else {
		fmt.Println("Organization: personal account")
	}
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.softcodes/config.yaml"
	}
	return "config.yaml"
}
