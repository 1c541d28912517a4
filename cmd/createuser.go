package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/lavlagaa/lavlagaa/db"
	"github.com/lavlagaa/lavlagaa/internal/auth"
	"github.com/lavlagaa/lavlagaa/internal/config"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

var (
	flagUserEmail    string
	flagUserName     string
	flagUserPassword string
	flagUserGenerate bool
)

const generatedPasswordLength = 16

var createUserCmd = &cobra.Command{
	Use:   "createuser",
	Short: "Create a password-login user account",
	Long: `Creates a user account for email/password sign-in. Use --generate to
have a random password created and printed once; it is stored only as a
bcrypt hash.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCreateUser(cmd.Context())
	},
}

func init() {
	createUserCmd.Flags().StringVar(&flagUserEmail, "email", "", "account email (required)")
	createUserCmd.Flags().StringVar(&flagUserName, "name", "", "display name")
	createUserCmd.Flags().StringVar(&flagUserPassword, "password", "", "account password")
	createUserCmd.Flags().BoolVar(&flagUserGenerate, "generate", false, "generate a random password and print it")
	_ = createUserCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(createUserCmd)
}

func runCreateUser(ctx context.Context) error {
	if flagUserPassword == "" && !flagUserGenerate {
		return errors.New("either --password or --generate is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	password := flagUserPassword
	if flagUserGenerate {
		password, err = generatePassword(generatedPasswordLength)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	store := session.NewStore(pool, newLogger())
	user, err := store.CreateUser(ctx, flagUserEmail, flagUserName, nil, &hash, nil)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("created user %s (%s)\n", user.Email, user.ID)
	if flagUserGenerate {
		fmt.Printf("password: %s\n", password)
	}
	return nil
}

// generatePassword draws n characters from a mixed alphabet with crypto/rand.
func generatePassword(n int) (string, error) {
	const alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%^&*"
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
