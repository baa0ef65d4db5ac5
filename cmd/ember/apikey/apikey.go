package cmd

import (
	"fmt"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/db/repository"
	"github.com/ember-llm/tune-server/internal/utils/hashutil"
	"github.com/ember-llm/tune-server/internal/utils/randutil"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage Ember API keys",
}

// newRepo connects on demand rather than in a PersistentPreRunE, which
// would shadow the root command's config loading.
func newRepo(cmd *cobra.Command) (repository.IAPIKeyRepository, error) {
	driver, err := db.NewConnection(cmd.Context(), config.GetConfig())
	if err != nil {
		return nil, err
	}

	db := driver.GetDB()
	if _, err := db.NewCreateTable().
		Model((*models.APIKey)(nil)).
		IfNotExists().
		Exec(cmd.Context()); err != nil {
		return nil, err
	}

	return repository.NewAPIKeyRepository(db), nil
}

func init() {
	newAPIKeyCmd := &cobra.Command{
		Use:   "new",
		Short: "Creates a new API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := randutil.RandomString(32)
			if err != nil {
				return err
			}

			repo, err := newRepo(cmd)
			if err != nil {
				return err
			}

			name, _ := cmd.Flags().GetString("name")
			mask := randutil.MaskString(key, 4, 4)
			apiKey := models.NewAPIKey(name, hashutil.Blake3Hash([]byte(key)), mask)

			if _, err := repo.Create(cmd.Context(), apiKey); err != nil {
				return err
			}

			fmt.Printf("API key created: %s\n", key)
			return nil
		},
	}
	newAPIKeyCmd.Flags().String("name", "", "Human-readable label for the key")

	revokeAPIKeyCmd := &cobra.Command{
		Use:   "revoke [key]",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := newRepo(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			if err := repo.RevokeAPIKeyWithHash(cmd.Context(), hashutil.Blake3Hash([]byte(key))); err != nil {
				return err
			}

			fmt.Printf("API key revoked: %s\n", randutil.MaskString(key, 4, 4))
			return nil
		},
	}

	listAPIKeysCmd := &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := newRepo(cmd)
			if err != nil {
				return err
			}

			apiKeys, err := repo.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}

			if len(apiKeys) == 0 {
				fmt.Println("No API keys found")
				return nil
			}

			fmt.Println("API keys:")
			for _, apiKey := range apiKeys {
				label := apiKey.KeyMask
				if apiKey.Name != "" {
					label = fmt.Sprintf("%s (%s)", apiKey.Name, apiKey.KeyMask)
				}
				fmt.Printf("%s (Revoked: %t)\n", label, apiKey.IsRevoked)
			}

			return nil
		},
	}

	Cmd.AddCommand(newAPIKeyCmd, revokeAPIKeyCmd, listAPIKeysCmd)
}
