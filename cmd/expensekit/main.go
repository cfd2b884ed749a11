package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/expensekit/internal/accounts"
	"github.com/tyemirov/expensekit/internal/clientkit"
	"github.com/tyemirov/expensekit/internal/expenses"
	"github.com/tyemirov/expensekit/pkg/tokenkit"
	"go.uber.org/zap"
)

const (
	configCodeMissingAPIBaseURL     = "config.missing_api_base_url"
	configCodeInvalidRefreshWindow  = "config.invalid_refresh_threshold"
	configCodeInvalidHTTPTimeout    = "config.invalid_http_timeout"
	configCodeStoragePathResolution = "config.storage_path_resolution"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "expensekit",
		Short: "Expense-tracker API client with persisted sessions and automatic token refresh",
	}

	rootCmd.PersistentFlags().String("api_base_url", "", "Expense-tracker API base URL (e.g. https://api.example.com)")
	rootCmd.PersistentFlags().String("storage_path", "", "Session record file path (default ~/.expensekit/session.json)")
	rootCmd.PersistentFlags().String("database_url", "", "Optional database URL for session storage (postgres:// or sqlite://; overrides storage_path)")
	rootCmd.PersistentFlags().Duration("refresh_threshold", tokenkit.DefaultRefreshThreshold, "Remaining access-token lifetime that triggers a proactive refresh")
	rootCmd.PersistentFlags().Duration("http_timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().String("login_path", clientkit.DefaultLoginPath, "Login entry point used for session-expired redirects")

	_ = viper.BindPFlag("api_base_url", rootCmd.PersistentFlags().Lookup("api_base_url"))
	_ = viper.BindPFlag("storage_path", rootCmd.PersistentFlags().Lookup("storage_path"))
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database_url"))
	_ = viper.BindPFlag("refresh_threshold", rootCmd.PersistentFlags().Lookup("refresh_threshold"))
	_ = viper.BindPFlag("http_timeout", rootCmd.PersistentFlags().Lookup("http_timeout"))
	_ = viper.BindPFlag("login_path", rootCmd.PersistentFlags().Lookup("login_path"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newLogoutCommand())
	rootCmd.AddCommand(newWhoAmICommand())
	rootCmd.AddCommand(newExpensesCommand())

	return rootCmd
}

// ClientConfig is everything the CLI pipeline needs to talk to the API.
type ClientConfig struct {
	APIBaseURL       string
	StoragePath      string
	DatabaseURL      string
	RefreshThreshold time.Duration
	HTTPTimeout      time.Duration
	LoginPath        string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the CLI configuration from viper.
func LoadClientConfig() (ClientConfig, error) {
	apiBaseURL := viper.GetString("api_base_url")
	if apiBaseURL == "" {
		return ClientConfig{}, configError(configCodeMissingAPIBaseURL, "api_base_url must be provided")
	}

	refreshThreshold := viper.GetDuration("refresh_threshold")
	if refreshThreshold <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRefreshWindow, "refresh_threshold must be greater than zero")
	}

	httpTimeout := viper.GetDuration("http_timeout")
	if httpTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidHTTPTimeout, "http_timeout must be greater than zero")
	}

	storagePath := viper.GetString("storage_path")
	if storagePath == "" {
		homeDirectory, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return ClientConfig{}, configError(configCodeStoragePathResolution, "storage_path not set and home directory unavailable")
		}
		storagePath = filepath.Join(homeDirectory, ".expensekit", "session.json")
	}

	loginPath := viper.GetString("login_path")
	if loginPath == "" {
		loginPath = clientkit.DefaultLoginPath
	}

	return ClientConfig{
		APIBaseURL:       apiBaseURL,
		StoragePath:      storagePath,
		DatabaseURL:      viper.GetString("database_url"),
		RefreshThreshold: refreshThreshold,
		HTTPTimeout:      httpTimeout,
		LoginPath:        loginPath,
	}, nil
}

// pipeline bundles the constructed client stack for one CLI invocation.
type pipeline struct {
	store    *clientkit.Store
	executor *clientkit.Executor
	accounts *accounts.Client
	expenses *expenses.Client
	logger   *zap.Logger
}

func buildPipeline(configuration ClientConfig) (*pipeline, error) {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return nil, loggerErr
	}

	var storage clientkit.Storage
	if configuration.DatabaseURL != "" {
		databaseStorage, storageErr := clientkit.NewDatabaseStorage(configuration.DatabaseURL)
		if storageErr != nil {
			return nil, storageErr
		}
		storage = databaseStorage
		logger.Info("using database session storage", zap.String("driver", databaseStorage.Driver()))
	} else {
		fileStorage, storageErr := clientkit.NewFileStorage(configuration.StoragePath)
		if storageErr != nil {
			return nil, storageErr
		}
		storage = fileStorage
	}

	httpClient := &http.Client{Timeout: configuration.HTTPTimeout}
	codec := tokenkit.New(tokenkit.Config{})

	store, storeErr := clientkit.NewStore(clientkit.StoreConfig{
		Storage:    storage,
		RefreshURL: configuration.APIBaseURL + "/accounts/token/refresh/",
		HTTPClient: httpClient,
		Codec:      codec,
		Logger:     logger,
	})
	if storeErr != nil {
		return nil, storeErr
	}

	executor, executorErr := clientkit.NewExecutor(clientkit.ExecutorConfig{
		BaseURL:          configuration.APIBaseURL,
		HTTPClient:       httpClient,
		Store:            store,
		Codec:            codec,
		RefreshThreshold: configuration.RefreshThreshold,
		LoginPath:        configuration.LoginPath,
		Navigator: clientkit.NavigatorFunc(func(target string) {
			logger.Warn("session expired; run `expensekit login` to sign in again",
				zap.String("target", target))
		}),
		Logger: logger,
	})
	if executorErr != nil {
		return nil, executorErr
	}

	accountsClient, accountsErr := accounts.NewClient(accounts.ClientConfig{
		Executor: executor,
		Store:    store,
		Logger:   logger,
	})
	if accountsErr != nil {
		return nil, accountsErr
	}
	expensesClient, expensesErr := expenses.NewClient(executor)
	if expensesErr != nil {
		return nil, expensesErr
	}

	if initErr := store.Init(); initErr != nil {
		logger.Warn("session restore failed, starting unauthenticated", zap.Error(initErr))
	}

	return &pipeline{
		store:    store,
		executor: executor,
		accounts: accountsClient,
		expenses: expensesClient,
		logger:   logger,
	}, nil
}

func (p *pipeline) close() {
	_ = p.logger.Sync()
}

func preparePipeline() (*pipeline, error) {
	configuration, configErr := LoadClientConfig()
	if configErr != nil {
		return nil, configErr
	}
	return buildPipeline(configuration)
}
