package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"coursechat/internal/models"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func loginCommand(env *Env) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := readPassword(env, "Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			user, err := env.Auth.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Signed in as %s (%s)\n", user.Name, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	return cmd
}

func registerCommand(env *Env) *cobra.Command {
	var req models.RegisterRequest
	var role string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Email = args[0]
			req.Role = models.UserRole(strings.ToUpper(role))
			if req.Role != models.UserRoleStudent && req.Role != models.UserRoleLecturer {
				return fmt.Errorf("role must be student or lecturer")
			}
			if req.Password == "" {
				p, err := readPassword(env, "Password: ")
				if err != nil {
					return err
				}
				confirm, err := readPassword(env, "Confirm password: ")
				if err != nil {
					return err
				}
				if p != confirm {
					return fmt.Errorf("passwords do not match")
				}
				req.Password = p
			}
			user, err := env.Auth.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Registered and signed in as %s (%s)\n", user.Name, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Department, "department", "", "department")
	cmd.Flags().StringVar(&role, "role", "student", "student or lecturer")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func logoutCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Auth.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "Signed out")
			return nil
		},
	}
}

func whoamiCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, ok := env.Auth.User()
			if !ok {
				if reason := env.Auth.LastFailure(); reason != "" {
					return fmt.Errorf("%w (last session ended: %s)", ErrSignedOut, reason)
				}
				return ErrSignedOut
			}
			fmt.Fprintf(env.Out, "%s <%s> %s\n", user.Name, user.Email, user.Role)
			return nil
		},
	}
}

// readPassword reads a line without echo when stdin is a terminal.
func readPassword(env *Env, label string) (string, error) {
	fmt.Fprint(env.Out, label)

	in := env.In
	if in == nil {
		in = os.Stdin
	}
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(env.Out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
