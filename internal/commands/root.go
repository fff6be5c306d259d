// Package commands is the command line of the client: account commands,
// administration and the interactive chat loop.
package commands

import (
	"errors"
	"io"
	"os"

	"coursechat/internal/api"
	"coursechat/internal/auth"

	"github.com/spf13/cobra"
)

var (
	ErrSignedOut = errors.New("not signed in, run `coursechat login` first")
)

// Env is what every command runs against.
type Env struct {
	API  *api.Client
	Auth *auth.Session
	In   *os.File
	Out  io.Writer
}

func NewRootCommand(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "coursechat",
		Short:         "Course chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(env.Out)
	root.SetErr(env.Out)
	if env.In != nil {
		root.SetIn(env.In)
	}

	root.AddCommand(
		loginCommand(env),
		registerCommand(env),
		logoutCommand(env),
		whoamiCommand(env),
		adminCommand(env),
	)
	return root
}

func requireSignedIn(env *Env) error {
	if env.Auth.Token() == "" {
		return ErrSignedOut
	}
	return nil
}
