package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

const credentialEnv = "POSTLAUNCH_CREDENTIAL"

type launchFunc func(ctx context.Context, credential, postID string) (launch.Record, error)

func newSubmitCmd(c *cli) *cobra.Command {
	var credential string
	cmd := &cobra.Command{
		Use:   "submit POST_ID",
		Short: "Launch a token from a social post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, c, credential, args[0], func(a *app) launchFunc { return a.service.SubmitLaunch })
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "agent credential (default $"+credentialEnv+", or prompt)")
	return cmd
}

func newResumeCmd(c *cli) *cobra.Command {
	var credential string
	cmd := &cobra.Command{
		Use:   "resume POST_ID",
		Short: "Re-broadcast a launch that stalled after creation",
		Long:  "Resume re-broadcasts the journaled signed batch of a stalled launch and records it. It never creates a new asset.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, c, credential, args[0], func(a *app) launchFunc { return a.service.ResumeLaunch })
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "agent credential (default $"+credentialEnv+", or prompt)")
	return cmd
}

func runLaunch(cmd *cobra.Command, c *cli, credential, postID string, op func(*app) launchFunc) error {
	credential, err := resolveCredential(credential, os.Getenv(credentialEnv), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Server.LaunchTimeout)
	defer cancel()

	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := op(a)(ctx, credential, strings.TrimSpace(postID))
	if err != nil {
		var f *launch.Failure
		if errors.As(err, &f) {
			_ = writeJSON(cmd.OutOrStdout(), f)
			if f.Stranded() {
				return fmt.Errorf("%w (run `%s resume %s` once the cause is fixed)", err, appName, f.PostID)
			}
		}
		return err
	}
	return writeJSON(cmd.OutOrStdout(), rec)
}

// resolveCredential prefers the flag, then the environment, then a prompt on
// an interactive terminal
func resolveCredential(flag, env string, prompt io.Writer) (string, error) {
	if v := strings.TrimSpace(flag); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(env); v != "" {
		return v, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no credential: pass --credential or set %s", credentialEnv)
	}
	fmt.Fprint(prompt, "Agent credential: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if v := strings.TrimSpace(string(raw)); v != "" {
		return v, nil
	}
	return "", errors.New("empty credential")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
