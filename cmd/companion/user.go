package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/eldercare/companion-go/pkg/storage"
)

// userWriter is implemented by repositories that can store profiles. Profiles are
// read-only to the assistant itself.
type userWriter interface {
	SaveUser(ctx context.Context, u *storage.UserProfile) (*storage.UserProfile, error)
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user profiles",
	}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import user profiles from a JSON file (one object or an array)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			w, ok := a.client.Repository().(userWriter)
			if !ok {
				return fmt.Errorf("repository %T cannot store user profiles", a.client.Repository())
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open %s: %w", file, err)
				}
				defer f.Close()
				in = f
			}
			users, err := decodeUsers(in)
			if err != nil {
				return err
			}
			return importUsers(cmd.Context(), w, users, cmd.OutOrStdout())
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with profiles, '-' for stdin")
	cmd.AddCommand(importCmd)
	return cmd
}

func decodeUsers(r io.Reader) ([]*storage.UserProfile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var users []*storage.UserProfile
	if err := json.Unmarshal(data, &users); err == nil {
		return users, nil
	}
	var one storage.UserProfile
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return []*storage.UserProfile{&one}, nil
}

func importUsers(ctx context.Context, w userWriter, users []*storage.UserProfile, out io.Writer) error {
	for _, u := range users {
		saved, err := w.SaveUser(ctx, u)
		if err != nil {
			return fmt.Errorf("save %s %s: %w", u.FirstName, u.LastName, err)
		}
		fmt.Fprintf(out, "imported user %d (%s)\n", saved.ID, saved.FirstName)
	}
	return nil
}
