package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/keystore"
	"github.com/hazyhaar/kwalarm/resolver"
)

var keywordsFile string

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Show or edit the stored keyword lists",
	Long: "Keyword lists are stored per site (--site, default generic). A site without a list\n" +
		"of its own uses the default list. Running scanners pick up edits from the store.",
}

var keywordsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the site's keyword list, one phrase per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(s *keystore.Store, site string) error {
			list, err := s.Load(cmd.Context(), site)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(list, "\n"))
			return err
		})
	},
}

var keywordsSetCmd = &cobra.Command{
	Use:   "set [phrase...]",
	Short: "Replace the site's keyword list",
	Long:  "Phrases come from the arguments, from --file, or one per line on standard input.",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := readPhrases(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		return withStore(cmd, func(s *keystore.Store, site string) error {
			if err := s.Save(cmd.Context(), site, list); err != nil {
				if errors.Is(err, keystore.ErrEmptyList) {
					return alarm.ErrEmptyKeywords
				}
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %d phrases for %s\n", len(keystore.Clean(list)), site)
			return nil
		})
	},
}

var keywordsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the site's list so it uses the defaults again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(s *keystore.Store, site string) error {
			return s.Reset(cmd.Context(), site)
		})
	},
}

var keywordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sites that have a list of their own",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(s *keystore.Store, _ string) error {
			entries, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, en := range entries {
				fmt.Fprintf(out, "%s\trev %d\t%s\t%s\n", en.Site, en.Revision,
					en.UpdatedAt.Format("2006-01-02 15:04:05"), strings.Join(en.Keywords, ", "))
			}
			return nil
		})
	},
}

func init() {
	keywordsSetCmd.Flags().StringVar(&keywordsFile, "file", "", "read phrases from a file, one per line")
	keywordsCmd.AddCommand(keywordsGetCmd, keywordsSetCmd, keywordsResetCmd, keywordsListCmd)
	rootCmd.AddCommand(keywordsCmd)
}

func withStore(cmd *cobra.Command, fn func(s *keystore.Store, site string) error) error {
	e, err := setup()
	if err != nil {
		return err
	}
	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	site := siteFlag
	if site == "" {
		site = resolver.Generic
	}
	return fn(store, site)
}

func readPhrases(stdin io.Reader, args []string) ([]string, error) {
	switch {
	case len(args) > 0:
		return args, nil
	case keywordsFile != "":
		data, err := os.ReadFile(keywordsFile)
		if err != nil {
			return nil, err
		}
		return keystore.ParseLines(string(data)), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}
	return keystore.ParseLines(string(data)), nil
}
