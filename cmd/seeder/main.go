package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
)

func main() {
	var destroyFlag bool

	rootCmd := &cobra.Command{
		Use:   "seeder",
		Short: "Load or wipe sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if destroyFlag {
				return runDestroy()
			}
			return runImport()
		},
	}
	rootCmd.Flags().BoolVarP(&destroyFlag, "destroy", "d", false, "wipe orders and users instead of importing")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Replace orders and users with the sample accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "destroy",
		Short: "Delete every order and user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestroy()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runImport() error {
	db := database.Connect(config.Load().DatabaseURL)
	users, err := database.Import(db)
	if err != nil {
		return fmt.Errorf("import sample data: %w", err)
	}
	for _, u := range users {
		fmt.Printf("  %s <%s> admin=%t\n", u.Name, u.Email, u.IsAdmin)
	}
	fmt.Println("Data Imported!")
	return nil
}

func runDestroy() error {
	db := database.Connect(config.Load().DatabaseURL)
	if err := database.Destroy(db); err != nil {
		return fmt.Errorf("destroy data: %w", err)
	}
	fmt.Println("Data Destroyed!")
	return nil
}
