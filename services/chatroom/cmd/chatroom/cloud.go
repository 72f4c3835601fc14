package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"roomchat/pkg/domain"
	"roomchat/pkg/setup"
	"roomchat/services/chatroom/internal/app"
)

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Manage the cloud storage connection",
}

var (
	flagSetupFile string
	flagSetupYes  bool
)

var cloudSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Connect room storage to the cloud using a pasted configuration",
	Long: "Reads the configuration object (for example `{ apiKey: \"...\", projectId: \"...\", databaseURL: \"...\" }`)\n" +
		"from --file or stdin, tests the connection and switches storage to the cloud.",
	Args: cobra.NoArgs,
	RunE: runCloudSetup,
}

var cloudStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which storage is active",
	Args:  cobra.NoArgs,
	RunE:  runCloudStatus,
}

var cloudDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the cloud configuration and use local storage",
	Args:  cobra.NoArgs,
	RunE:  runCloudDisconnect,
}

func init() {
	cloudSetupCmd.Flags().StringVarP(&flagSetupFile, "file", "f", "", "read the configuration from this file instead of stdin")
	cloudSetupCmd.Flags().BoolVarP(&flagSetupYes, "yes", "y", false, "accept a derived databaseURL without asking")
	cloudCmd.AddCommand(cloudSetupCmd, cloudStatusCmd, cloudDisconnectCmd)
}

func runCloudSetup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var (
		text   []byte
		err    error
		prompt io.Reader
	)
	if flagSetupFile != "" {
		text, err = os.ReadFile(flagSetupFile)
		prompt = cmd.InOrStdin()
	} else {
		text, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}

	rt, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	confirm := setup.Decline
	switch {
	case flagSetupYes:
		confirm = setup.Accept
	case prompt != nil:
		confirm = promptConfirmer(prompt, cmd.OutOrStdout())
	}
	creds, err := rt.app.SetupCloud(ctx, app.OperatorSession(), string(text), confirm)
	if err != nil {
		var declined *setup.DerivedURLDeclinedError
		if errors.As(err, &declined) && prompt == nil && !flagSetupYes {
			return fmt.Errorf("%s (pass --yes to accept it)", setup.UserMessage(err))
		}
		return errors.New(setup.UserMessage(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to cloud storage (project %s, %s).\n", creds.ProjectID, creds.DatabaseURL)
	fmt.Fprintln(cmd.OutOrStdout(), "Running servers pick this up on restart.")
	return nil
}

// promptConfirmer asks on out and reads a y/N answer from in.
func promptConfirmer(in io.Reader, out io.Writer) setup.Confirmer {
	reader := bufio.NewReader(in)
	return setup.ConfirmFunc(func(_ context.Context, url string) (bool, error) {
		fmt.Fprintf(out, "databaseURL is missing. Use %s? [y/N] ", url)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	})
}

func runCloudStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	creds, stored, err := rt.creds.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "mode: %s\n", rt.app.Mode())
	if stored {
		fmt.Fprintf(out, "project: %s\ndatabaseURL: %s\n", creds.ProjectID, creds.DatabaseURL)
		if rt.app.Mode() != domain.ModeCloud {
			fmt.Fprintln(out, "cloud configuration is stored but the connection failed; using local storage")
		}
	}
	return nil
}

func runCloudDisconnect(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd.Context(), os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.app.DisconnectCloud(cmd.Context(), app.OperatorSession()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cloud storage disconnected; rooms are stored locally.")
	fmt.Fprintln(cmd.OutOrStdout(), "Running servers pick this up on restart.")
	return nil
}
