package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tyemirov/expensekit/internal/expenses"
)

func newLoginCommand() *cobra.Command {
	var email string
	var password string

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist the session",
		RunE: func(command *cobra.Command, arguments []string) error {
			clientPipeline, buildErr := preparePipeline()
			if buildErr != nil {
				return buildErr
			}
			defer clientPipeline.close()

			result, loginErr := clientPipeline.accounts.Login(command.Context(), email, password)
			if loginErr != nil {
				return loginErr
			}
			command.Printf("logged in as %s (%s)\n", result.User.Username, result.User.Email)
			return nil
		},
	}

	loginCmd.Flags().StringVar(&email, "email", "", "Account email")
	loginCmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")
	return loginCmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the refresh token server-side and clear the local session",
		RunE: func(command *cobra.Command, arguments []string) error {
			clientPipeline, buildErr := preparePipeline()
			if buildErr != nil {
				return buildErr
			}
			defer clientPipeline.close()

			clientPipeline.accounts.Logout(command.Context())
			command.Println("logged out")
			return nil
		},
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated profile",
		RunE: func(command *cobra.Command, arguments []string) error {
			clientPipeline, buildErr := preparePipeline()
			if buildErr != nil {
				return buildErr
			}
			defer clientPipeline.close()

			if !clientPipeline.store.Snapshot().IsAuthenticated() {
				return fmt.Errorf("not logged in; run `expensekit login`")
			}
			profile, profileErr := clientPipeline.accounts.Profile(command.Context())
			if profileErr != nil {
				return profileErr
			}
			return printJSON(command, profile)
		},
	}
}

func newExpensesCommand() *cobra.Command {
	expensesCmd := &cobra.Command{
		Use:   "expenses",
		Short: "Work with expenses",
	}

	var filter expenses.ExpenseFilter
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List expenses, optionally filtered",
		RunE: func(command *cobra.Command, arguments []string) error {
			clientPipeline, buildErr := preparePipeline()
			if buildErr != nil {
				return buildErr
			}
			defer clientPipeline.close()

			records, listErr := clientPipeline.expenses.ListExpenses(command.Context(), filter)
			if listErr != nil {
				return listErr
			}
			return printJSON(command, records)
		},
	}
	listCmd.Flags().StringVar(&filter.Category, "category", "", "Filter by category id")
	listCmd.Flags().StringVar(&filter.MinAmount, "min_amount", "", "Minimum amount")
	listCmd.Flags().StringVar(&filter.MaxAmount, "max_amount", "", "Maximum amount")
	listCmd.Flags().StringVar(&filter.StartDate, "start_date", "", "Start date (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&filter.EndDate, "end_date", "", "End date (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&filter.PaymentMethod, "payment_method", "", "Payment method")

	expensesCmd.AddCommand(listCmd)
	return expensesCmd
}

func printJSON(command *cobra.Command, value any) error {
	encoded, marshalErr := json.MarshalIndent(value, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	command.Println(string(encoded))
	return nil
}
