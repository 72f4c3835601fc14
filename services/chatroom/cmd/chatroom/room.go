package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"roomchat/services/chatroom/internal/app"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Inspect and move rooms",
}

var (
	flagExportOut    string
	flagRoomPassword string
)

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms in creation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := bootstrap(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()
		rooms, err := rt.app.Rooms(cmd.Context(), app.OperatorSession())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tPRIVATE\tMESSAGES\tMEMOS\tCREATED")
		for _, r := range rooms {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%s\n",
				r.ID, r.Title, r.Private, len(r.Messages), len(r.Memos), r.CreatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var roomCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()
		room, err := rt.app.CreateRoom(cmd.Context(), app.OperatorSession(), args[0], flagRoomPassword)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), room.ID)
		return nil
	},
}

var roomExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write a room to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()
		filename, data, err := rt.app.ExportRoom(cmd.Context(), app.OperatorSession(), args[0])
		if err != nil {
			return err
		}
		switch flagExportOut {
		case "-":
			_, err = cmd.OutOrStdout().Write(data)
			return err
		case "":
		default:
			filename = flagExportOut
		}
		if err := os.WriteFile(filepath.Clean(filename), data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", filename)
		return nil
	},
}

var roomImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or replace a room from an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read room file: %w", err)
		}
		rt, err := bootstrap(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()
		if !rt.app.ImportRoom(cmd.Context(), app.OperatorSession(), data) {
			return fmt.Errorf("invalid room file %s: an id and a title are required", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), "room imported")
		return nil
	},
}

func init() {
	roomExportCmd.Flags().StringVarP(&flagExportOut, "output", "o", "", "output file, - for stdout (default: name derived from the title)")
	roomCreateCmd.Flags().StringVar(&flagRoomPassword, "password", "", "make the room private with this password")
	roomCmd.AddCommand(roomListCmd, roomCreateCmd, roomExportCmd, roomImportCmd)
}
