package expenses

import "encoding/json"

// Category organizes expenses. ExpenseCount is server-derived.
type Category struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
	Icon         string `json:"icon,omitempty"`
	IsDefault    bool   `json:"is_default,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	ExpenseCount int    `json:"expense_count,omitempty"`
}

// Expense is a single tracked expense. CategoryName and CategoryColor are
// server-derived from the linked category.
type Expense struct {
	ID            string          `json:"id,omitempty"`
	Amount        string          `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Description   string          `json:"description"`
	Date          string          `json:"date,omitempty"`
	Category      string          `json:"category,omitempty"`
	CategoryName  string          `json:"category_name,omitempty"`
	CategoryColor string          `json:"category_color,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Location      json.RawMessage `json:"location,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	IsRecurring   bool            `json:"is_recurring,omitempty"`
	ReceiptImage  string          `json:"receipt_image,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	UpdatedAt     string          `json:"updated_at,omitempty"`
}

// Budget is a spending limit over a period. SpentAmount, RemainingAmount,
// and PercentageUsed are server-derived.
type Budget struct {
	ID              string  `json:"id,omitempty"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency,omitempty"`
	Period          string  `json:"period,omitempty"`
	StartDate       string  `json:"start_date,omitempty"`
	Category        string  `json:"category,omitempty"`
	CategoryName    string  `json:"category_name,omitempty"`
	SpentAmount     string  `json:"spent_amount,omitempty"`
	RemainingAmount float64 `json:"remaining_amount,omitempty"`
	PercentageUsed  float64 `json:"percentage_used,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// Report is a saved report configuration. CategoriesData is the
// server-expanded view of the linked category ids.
type Report struct {
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	ReportType     string          `json:"report_type"`
	ChartType      string          `json:"chart_type,omitempty"`
	StartDate      string          `json:"start_date,omitempty"`
	EndDate        string          `json:"end_date,omitempty"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	Categories     []string        `json:"categories,omitempty"`
	CategoriesData []Category      `json:"categories_data,omitempty"`
	IsFavorite     bool            `json:"is_favorite,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// ExpenseFilter narrows List results.
type ExpenseFilter struct {
	Category      string
	MinAmount     string
	MaxAmount     string
	StartDate     string
	EndDate       string
	PaymentMethod string
}

// AnalyticsOptions shape the analytics reads.
type AnalyticsOptions struct {
	Period    string
	Currency  string
	StartDate string
	EndDate   string
	Category  string
	GroupBy   string
	ChartType string
}

// ExportOptions shape the CSV export; the server derives the date range
// from Period unless explicit dates are given.
type ExportOptions struct {
	Period    string
	Category  string
	StartDate string
	EndDate   string
}

// Summary is the aggregate expense report.
type Summary struct {
	TotalAmount   json.Number `json:"total_amount"`
	Currency      string      `json:"currency,omitempty"`
	ExpenseCount  int         `json:"expense_count,omitempty"`
	AverageAmount json.Number `json:"average_amount,omitempty"`
	Period        string      `json:"period,omitempty"`
}
