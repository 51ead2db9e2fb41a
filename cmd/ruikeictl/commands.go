package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/ruikei/internal/archive"
	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/model"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <archive.yaml>",
		Short: "Validate a type archive without loading it",
		Long: `Parse a YAML type archive and check it the way the server does at
startup: required fields, unique identities, super-types present in the
archive with a matching category, and no hierarchy cycles.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := archive.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archive %s (%s) version %d: %d attribute types, %d types\n",
				a.Name, a.GUID, a.Version, len(a.AttributeTypes), len(a.Types))
			return nil
		},
	}
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Hash an API key for RUIKEI_API_KEYS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject, apiKey string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange an API key for a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp model.AuthTokenResponse
			err := globalClient.do(http.MethodPost, "/auth/token",
				model.AuthTokenRequest{Subject: subject, APIKey: apiKey}, &resp)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject the key was issued to")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <pattern>",
		Short: "Find known types whose names match a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp model.WildcardResponse
			path := "/v1/typedefs/search?pattern=" + url.QueryEscape(args[0])
			if err := globalClient.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <category> <name>",
		Short: "Show the instance type for an active type",
		Long: `Resolve the super-type chain, inherited properties and valid statuses
an instance of the named type would carry. The category is one of EntityDef,
RelationshipDef or ClassificationDef.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp model.InstanceType
			path := "/v1/instance-types/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			if err := globalClient.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
}
