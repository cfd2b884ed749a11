// Package expenses is the typed client for the /expenses API surface:
// category, expense, budget, and report CRUD plus the analytics reads and
// file exports. Payloads pass through the authenticated executor; nothing
// here retries or touches the session.
package expenses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/tyemirov/expensekit/internal/clientkit"
)

// ErrMissingExecutor indicates the Client was constructed without an executor.
var ErrMissingExecutor = errors.New("expenses.missing_executor")

// Client calls the expenses endpoints.
type Client struct {
	executor *clientkit.Executor
}

// NewClient constructs a Client.
func NewClient(executor *clientkit.Executor) (*Client, error) {
	if executor == nil {
		return nil, fmt.Errorf("expenses.new: %w", ErrMissingExecutor)
	}
	return &Client{executor: executor}, nil
}

// ListCategories returns the user's categories.
func (client *Client) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := client.getJSON(ctx, "/expenses/categories/", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// CreateCategory creates a category.
func (client *Client) CreateCategory(ctx context.Context, category Category) (*Category, error) {
	var created Category
	if err := client.sendJSON(ctx, "POST", "/expenses/categories/", category, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetCategory fetches one category by id.
func (client *Client) GetCategory(ctx context.Context, id string) (*Category, error) {
	var category Category
	if err := client.getJSON(ctx, "/expenses/categories/"+id+"/", nil, &category); err != nil {
		return nil, err
	}
	return &category, nil
}

// UpdateCategory updates a category.
func (client *Client) UpdateCategory(ctx context.Context, id string, category Category) (*Category, error) {
	var updated Category
	if err := client.sendJSON(ctx, "PUT", "/expenses/categories/"+id+"/", category, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCategory deletes a category.
func (client *Client) DeleteCategory(ctx context.Context, id string) error {
	_, callErr := client.executor.Do(ctx, "/expenses/categories/"+id+"/", clientkit.Options{Method: "DELETE"})
	return callErr
}

// ListExpenses returns expenses matching the filter.
func (client *Client) ListExpenses(ctx context.Context, filter ExpenseFilter) ([]Expense, error) {
	query := url.Values{}
	setIfPresent(query, "category", filter.Category)
	setIfPresent(query, "min_amount", filter.MinAmount)
	setIfPresent(query, "max_amount", filter.MaxAmount)
	setIfPresent(query, "start_date", filter.StartDate)
	setIfPresent(query, "end_date", filter.EndDate)
	setIfPresent(query, "payment_method", filter.PaymentMethod)

	var records []Expense
	if err := client.getJSON(ctx, "/expenses/expenses/", query, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateExpense creates an expense.
func (client *Client) CreateExpense(ctx context.Context, expense Expense) (*Expense, error) {
	var created Expense
	if err := client.sendJSON(ctx, "POST", "/expenses/expenses/", expense, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetExpense fetches one expense by id.
func (client *Client) GetExpense(ctx context.Context, id string) (*Expense, error) {
	var expense Expense
	if err := client.getJSON(ctx, "/expenses/expenses/"+id+"/", nil, &expense); err != nil {
		return nil, err
	}
	return &expense, nil
}

// UpdateExpense updates an expense.
func (client *Client) UpdateExpense(ctx context.Context, id string, expense Expense) (*Expense, error) {
	var updated Expense
	if err := client.sendJSON(ctx, "PUT", "/expenses/expenses/"+id+"/", expense, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteExpense deletes an expense.
func (client *Client) DeleteExpense(ctx context.Context, id string) error {
	_, callErr := client.executor.Do(ctx, "/expenses/expenses/"+id+"/", clientkit.Options{Method: "DELETE"})
	return callErr
}

// ListBudgets returns the user's budgets.
func (client *Client) ListBudgets(ctx context.Context) ([]Budget, error) {
	var budgets []Budget
	if err := client.getJSON(ctx, "/expenses/budgets/", nil, &budgets); err != nil {
		return nil, err
	}
	return budgets, nil
}

// CreateBudget creates a budget.
func (client *Client) CreateBudget(ctx context.Context, budget Budget) (*Budget, error) {
	var created Budget
	if err := client.sendJSON(ctx, "POST", "/expenses/budgets/", budget, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetBudget fetches one budget by id.
func (client *Client) GetBudget(ctx context.Context, id string) (*Budget, error) {
	var budget Budget
	if err := client.getJSON(ctx, "/expenses/budgets/"+id+"/", nil, &budget); err != nil {
		return nil, err
	}
	return &budget, nil
}

// UpdateBudget updates a budget.
func (client *Client) UpdateBudget(ctx context.Context, id string, budget Budget) (*Budget, error) {
	var updated Budget
	if err := client.sendJSON(ctx, "PUT", "/expenses/budgets/"+id+"/", budget, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteBudget deletes a budget.
func (client *Client) DeleteBudget(ctx context.Context, id string) error {
	_, callErr := client.executor.Do(ctx, "/expenses/budgets/"+id+"/", clientkit.Options{Method: "DELETE"})
	return callErr
}

// ListReports returns the user's saved report configurations.
func (client *Client) ListReports(ctx context.Context) ([]Report, error) {
	var reports []Report
	if err := client.getJSON(ctx, "/expenses/reports/", nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// CreateReport saves a report configuration.
func (client *Client) CreateReport(ctx context.Context, report Report) (*Report, error) {
	var created Report
	if err := client.sendJSON(ctx, "POST", "/expenses/reports/", report, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetReport fetches one report by id.
func (client *Client) GetReport(ctx context.Context, id string) (*Report, error) {
	var report Report
	if err := client.getJSON(ctx, "/expenses/reports/"+id+"/", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// UpdateReport updates a report configuration.
func (client *Client) UpdateReport(ctx context.Context, id string, report Report) (*Report, error) {
	var updated Report
	if err := client.sendJSON(ctx, "PUT", "/expenses/reports/"+id+"/", report, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteReport deletes a report.
func (client *Client) DeleteReport(ctx context.Context, id string) error {
	_, callErr := client.executor.Do(ctx, "/expenses/reports/"+id+"/", clientkit.Options{Method: "DELETE"})
	return callErr
}

// ExportCSV downloads the expense data for the period as CSV bytes.
func (client *Client) ExportCSV(ctx context.Context, options ExportOptions) ([]byte, error) {
	query := url.Values{}
	setIfPresent(query, "period", options.Period)
	setIfPresent(query, "category", options.Category)
	setIfPresent(query, "start_date", options.StartDate)
	setIfPresent(query, "end_date", options.EndDate)

	response, callErr := client.executor.Do(ctx, "/expenses/export/csv/", clientkit.Options{Query: query})
	if callErr != nil {
		return nil, callErr
	}
	return response.Raw, nil
}

// ExportChart renders the supplied chart payload server-side and returns
// the image bytes.
func (client *Client) ExportChart(ctx context.Context, chartData json.RawMessage) ([]byte, error) {
	response, callErr := client.executor.Do(ctx, "/expenses/export/chart/", clientkit.Options{
		Method: "POST",
		Body:   map[string]json.RawMessage{"chart_data": chartData},
	})
	if callErr != nil {
		return nil, callErr
	}
	return response.Raw, nil
}

// Summary returns the aggregate expense report for the period.
func (client *Client) Summary(ctx context.Context, options AnalyticsOptions) (*Summary, error) {
	var summary Summary
	if err := client.getJSON(ctx, "/expenses/analytics/summary/", analyticsQuery(options), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ByCategory returns the per-category breakdown; the chart payload shape
// varies by chart type, so it stays raw.
func (client *Client) ByCategory(ctx context.Context, options AnalyticsOptions) (json.RawMessage, error) {
	return client.getRaw(ctx, "/expenses/analytics/by-category/", analyticsQuery(options))
}

// TimeSeries returns the spend-over-time payload.
func (client *Client) TimeSeries(ctx context.Context, options AnalyticsOptions) (json.RawMessage, error) {
	return client.getRaw(ctx, "/expenses/analytics/time-series/", analyticsQuery(options))
}

// BudgetComparison returns budget-versus-actual figures.
func (client *Client) BudgetComparison(ctx context.Context, options AnalyticsOptions) (json.RawMessage, error) {
	return client.getRaw(ctx, "/expenses/analytics/budget-comparison/", analyticsQuery(options))
}

func (client *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	response, callErr := client.executor.Do(ctx, endpoint, clientkit.Options{Query: query})
	if callErr != nil {
		return callErr
	}
	return response.Decode(out)
}

func (client *Client) getRaw(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	response, callErr := client.executor.Do(ctx, endpoint, clientkit.Options{Query: query})
	if callErr != nil {
		return nil, callErr
	}
	if response.JSON == nil {
		return nil, fmt.Errorf("expenses.get_raw: %w", clientkit.ErrNotJSON)
	}
	return response.JSON, nil
}

func (client *Client) sendJSON(ctx context.Context, method string, endpoint string, body any, out any) error {
	response, callErr := client.executor.Do(ctx, endpoint, clientkit.Options{Method: method, Body: body})
	if callErr != nil {
		return callErr
	}
	return response.Decode(out)
}

func setIfPresent(query url.Values, key string, value string) {
	if value != "" {
		query.Set(key, value)
	}
}

func analyticsQuery(options AnalyticsOptions) url.Values {
	query := url.Values{}
	setIfPresent(query, "period", options.Period)
	setIfPresent(query, "currency", options.Currency)
	setIfPresent(query, "start_date", options.StartDate)
	setIfPresent(query, "end_date", options.EndDate)
	setIfPresent(query, "category", options.Category)
	setIfPresent(query, "group_by", options.GroupBy)
	setIfPresent(query, "chart_type", options.ChartType)
	return query
}
