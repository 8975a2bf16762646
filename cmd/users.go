/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"

	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/db"
	"github.com/nexocrm/authsvc/internal/services"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var superadminFlags struct {
	email     string
	password  string
	firstName string
	lastName  string
	position  string
}

// usersCmd groups offline user administration tasks.
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "User administration tasks",
}

var createSuperadminCmd = &cobra.Command{
	Use:   "create-superadmin",
	Short: "Create an account with the Superadmin role",
	Long: `Creates an account with the Superadmin role. Self-registration assigns
no roles, so this is how the first administrator is bootstrapped. Usage:

	SUPERADMIN_PASSWORD=... authsvc users create-superadmin --email root@example.com
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := superadminFlags.password
		if password == "" {
			password = os.Getenv("SUPERADMIN_PASSWORD")
		}
		if superadminFlags.email == "" || password == "" {
			return errors.New("email and password are required")
		}

		ctx := cmd.Context()
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		var position *string
		if superadminFlags.position != "" {
			position = &superadminFlags.position
		}

		users := services.NewUserService(
			store.NewTxManager(conn),
			store.NewUserRepository(conn),
			store.NewRoleRepository(conn),
			auth.NewPasswordHasher(cfg.Auth.BcryptCost),
			services.NoopPublisher{},
		)
		created, err := users.Create(ctx, nil, services.CreateUserInput{
			FirstName: superadminFlags.firstName,
			LastName:  superadminFlags.lastName,
			Email:     superadminFlags.email,
			Password:  password,
			Position:  position,
			Roles:     []string{auth.RoleSuperadmin},
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return errors.New("a user with that email already exists")
			}
			return err
		}

		log.Info().Int("user_id", created.ID).Str("email", created.Email).Msg("superadmin created")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(createSuperadminCmd)

	flags := createSuperadminCmd.Flags()
	flags.StringVar(&superadminFlags.email, "email", "", "login email")
	flags.StringVar(&superadminFlags.password, "password", "", "password (defaults to $SUPERADMIN_PASSWORD)")
	flags.StringVar(&superadminFlags.firstName, "first-name", "Super", "first name")
	flags.StringVar(&superadminFlags.lastName, "last-name", "Admin", "last name")
	flags.StringVar(&superadminFlags.position, "position", "", "job title")
}
