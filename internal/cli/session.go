package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jrsteele09/volunteer-gateway/authstore"
	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/identity/oidcprovider"
	"github.com/jrsteele09/volunteer-gateway/internal/config"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type sessionOptions struct {
	provider   string
	redirect   string
	listen     string
	policyFile string
}

func newSessionCmd() *cobra.Command {
	opts := sessionOptions{}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Sign in and keep the session alive until interrupted",
		Long: `Sign in with an OAuth provider from the terminal.

A loopback listener receives the provider callback. The session is refreshed
before it expires until the command is interrupted, then it signs out. Every auth
state change is printed together with the guard decision for --redirect.

Examples:
  volunteerctl session --provider google
  volunteerctl session --provider discord --redirect /events/manage`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.provider, "provider", "", "OAuth provider (google, discord)")
	cmd.Flags().StringVar(&opts.redirect, "redirect", "/dashboard", "path whose guard decision is reported")
	cmd.Flags().StringVar(&opts.listen, "listen", "127.0.0.1:0", "loopback address for the OAuth callback")
	cmd.Flags().StringVar(&opts.policyFile, "policy", "", "policy YAML file (default from POLICY_FILE, else built-in)")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func runSession(ctx context.Context, out io.Writer, opts sessionOptions) error {
	c := config.New()
	if opts.policyFile == "" {
		opts.policyFile = c.GetPolicyFile()
	}
	p, err := policy.Load(opts.policyFile)
	if err != nil {
		return err
	}

	provider, err := oidcprovider.New(ctx, oidcprovider.SettingsFromConfig(c), identity.NewTokenParser(c.GetAccessTokenSecret()))
	if err != nil {
		return err
	}
	if !provider.Supports(opts.provider) {
		return fmt.Errorf("%w: %s", gwerrors.ErrUnknownProvider, opts.provider)
	}

	repo, closeRepo, err := server.OpenProfileRepo(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Err(err).Msg("[volunteerctl] closing profile store")
		}
	}()

	client := oidcprovider.NewClient(provider)
	store := authstore.New(client, repo,
		authstore.WithThreshold(c.GetRefreshThreshold()),
		authstore.WithScopes(c.GetProviderScopes),
	)
	defer store.Close()

	unsubscribe := store.Subscribe(func(st authstore.State) {
		d := authstore.Guard(st, opts.redirect, p, authstore.GuardOptions{})
		line := fmt.Sprintf("state: %-40s guard %s: %s", st, opts.redirect, d.Action)
		if d.Target != "" {
			line += " -> " + d.Target
		}
		fmt.Fprintln(out, line)
	})
	defer unsubscribe()

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listening for the callback: %w", err)
	}
	signedIn := make(chan struct{}, 1)
	callback := &http.Server{Handler: callbackHandler(client, signedIn), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := callback.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("[volunteerctl] callback listener")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = callback.Shutdown(shutdownCtx)
	}()

	if err := store.Start(ctx); err != nil {
		return err
	}

	authURL, err := store.SignInWith(ctx, opts.provider, "http://"+ln.Addr().String()+"/callback")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Open this URL to sign in:\n\n  %s\n\n", authURL)

	select {
	case <-signedIn:
		fmt.Fprintln(out, "Signed in. Press Ctrl+C to sign out.")
	case <-ctx.Done():
		return nil
	}
	<-ctx.Done()

	signOutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.SignOut(signOutCtx); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	fmt.Fprintln(out, "Signed out.")
	return nil
}

// callbackHandler completes the code exchange on the loopback listener. A failed
// exchange is reported in the browser and the user may retry.
func callbackHandler(client identity.Client, signedIn chan<- struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		if errorParam := r.URL.Query().Get("error"); errorParam != "" {
			http.Error(w, "Sign-in failed: "+errorParam, http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Sign-in failed: missing code", http.StatusBadRequest)
			return
		}
		if _, err := client.ExchangeCodeForSession(r.Context(), code, r.URL.Query().Get("state")); err != nil {
			log.Err(err).Msg("[volunteerctl] code exchange failed")
			http.Error(w, "Sign-in failed. Return to the terminal and try again.", http.StatusBadRequest)
			return
		}

		select {
		case signedIn <- struct{}{}:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Signed in. You can close this window.")
	}
}
