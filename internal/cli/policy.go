package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jrsteele09/volunteer-gateway/internal/config"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/spf13/cobra"
)

func newPolicyCmd() *cobra.Command {
	var policyFile string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the role policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&policyFile, "policy", "", "policy YAML file (default from POLICY_FILE, else built-in)")

	load := func() (*policy.Policy, error) {
		if policyFile == "" {
			policyFile = config.New().GetPolicyFile()
		}
		return policy.Load(policyFile)
	}

	cmd.AddCommand(newPolicyCheckCmd(load), newPolicyShowCmd(load))
	return cmd
}

func newPolicyCheckCmd(load func() (*policy.Policy, error)) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Show the access decision for a role and path",
		Long: `Show the access decision the gatekeeper makes for a role visiting a path.
Leave --role empty to check an unauthenticated visitor.

Examples:
  volunteerctl policy check --role lead /admin
  volunteerctl policy check /dashboard`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load()
			if err != nil {
				return err
			}
			r := policy.Role(role)
			if role != "" && !r.Valid() {
				return fmt.Errorf("unknown role %q, expected one of %v", role, policy.Roles())
			}
			writeDecision(cmd.OutOrStdout(), p, r, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role of the visitor (manager, lead, volunteer)")
	return cmd
}

func writeDecision(out io.Writer, p *policy.Policy, role policy.Role, path string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	who := string(role)
	if who == "" {
		who = "(unauthenticated)"
	}
	fmt.Fprintf(w, "path:\t%s\n", path)
	fmt.Fprintf(w, "role:\t%s\n", who)
	fmt.Fprintf(w, "protected:\t%t\n", p.IsProtected(path))
	if required, ok := p.RequiredRole(path); ok {
		fmt.Fprintf(w, "requires:\t%s\n", required)
	} else {
		fmt.Fprintf(w, "requires:\t-\n")
	}

	if p.HasAccess(role, path) {
		fmt.Fprintf(w, "decision:\tallow\n")
		return
	}
	fmt.Fprintf(w, "decision:\tdeny\n")
	if role == "" {
		fmt.Fprintf(w, "redirect:\t%s\n", p.LoginRedirect(path))
	} else {
		fmt.Fprintf(w, "redirect:\t%s\n", p.DefaultRedirect(role))
	}
}

func newPolicyShowCmd(load func() (*policy.Policy, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the policy table in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := load()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "login:\t%s\n", p.LoginPath)
			fmt.Fprintf(w, "protected:\t%v\n", p.Protected)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "PREFIX\tROLE")
			for _, r := range p.Routes() {
				fmt.Fprintf(w, "%s\t%s\n", r.Prefix, r.Role)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "ROLE\tLANDING")
			for _, role := range policy.Roles() {
				fmt.Fprintf(w, "%s\t%s\n", role, p.DefaultRedirect(role))
			}
			return w.Flush()
		},
	}
}
