package cmd

import (
	"errors"

	"github.com/cs3org/sweettooth/internal/auth"
	"github.com/cs3org/sweettooth/internal/crud"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/spf13/cobra"
)

var userFlags = struct {
	Email    string
	Reviewer bool
}{}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the users of the site",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		u := &model.User{
			Username:  args[0],
			Email:     userFlags.Email,
			CanReview: userFlags.Reviewer,
		}
		if err := repo.CreateUser(log.WithContext(cmd.Context()), u); err != nil {
			return err
		}
		cmd.Printf("created user %s (id %d)\n", u.Username, u.ID)
		return nil
	},
}

var userReviewerCmd = &cobra.Command{
	Use:   "reviewer <username> <true|false>",
	Short: "Grant or revoke the review authorization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var grant bool
		switch args[1] {
		case "true":
			grant = true
		case "false":
		default:
			return errors.New("expected true or false")
		}

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		ctx := log.WithContext(cmd.Context())
		u, err := repo.GetUserByName(ctx, args[0])
		if err != nil {
			return err
		}
		return repo.SetReviewer(ctx, u.ID, grant)
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue a bearer token for the user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := &config.Sweettooth
		if c.JWTSecret == "" {
			return errors.New("jwt_secret must be configured to issue tokens")
		}

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		u, err := repo.GetUserByName(log.WithContext(cmd.Context()), args[0])
		if err != nil {
			return err
		}

		c.ApplyDefaults()
		tokens, err := auth.NewManager(c.JWTSecret, c.TokenTTL)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(u.ID, u.Username)
		if err != nil {
			return err
		}
		cmd.Println(token)
		return nil
	},
}

// openRepository opens the configured store. Unlike the
// server, the commands never fall back to a temporary database.
func openRepository() (crud.Repository, error) {
	c := config.Sweettooth.DB
	if c.DSN == "" {
		return nil, errors.New("db dsn not configured")
	}
	return crud.New(&c)
}

func init() {
	userAddCmd.Flags().StringVar(&userFlags.Email, "email", "", "email address of the user")
	userAddCmd.Flags().BoolVar(&userFlags.Reviewer, "reviewer", false, "grant the review authorization")

	userCmd.AddCommand(userAddCmd, userReviewerCmd, userTokenCmd)
	rootCmd.AddCommand(userCmd)
}
