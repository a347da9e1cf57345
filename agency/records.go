package agency

// Invoice statuses.
const (
	InvoicePending   = "pendente"
	InvoicePaid      = "pago"
	InvoiceOverdue   = "atrasado"
	InvoiceCancelled = "cancelado"
)

// Task statuses.
const (
	TaskTodo       = "a_fazer"
	TaskInProgress = "em_andamento"
	TaskReview     = "revisao"
	TaskDone       = "concluida"
	TaskPublished  = "publicada"
)

// ContractActive is the status of a contract created from an accepted
// proposal.
const ContractActive = "ativo"

// Proposal statuses.
const (
	ProposalDraft    = "rascunho"
	ProposalSent     = "enviada"
	ProposalAccepted = "aceita"
	ProposalRejected = "recusada"
)

var (
	invoiceStatuses = []string{InvoicePending, InvoicePaid, InvoiceOverdue, InvoiceCancelled}
	taskStatuses    = []string{TaskTodo, TaskInProgress, TaskReview, TaskDone, TaskPublished}
)

// Dates are kept as the backend's ISO strings ("2025-03-10" or RFC 3339);
// the cache stores them untouched.

// Client is a customer of the agency.
type Client struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Company   string `json:"company,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Contract is a signed agreement with a client.
type Contract struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id,omitempty"`
	ClientID   string  `json:"client_id"`
	ProposalID string  `json:"proposal_id,omitempty"`
	Title      string  `json:"title"`
	Value      float64 `json:"value"`
	Status     string  `json:"status,omitempty"`
	StartDate  string  `json:"start_date,omitempty"`
	EndDate    string  `json:"end_date,omitempty"`
}

// Proposal is a commercial offer that becomes a contract when accepted.
type Proposal struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id,omitempty"`
	ClientID    string  `json:"client_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Value       float64 `json:"value"`
	Status      string  `json:"status"`
	ValidUntil  string  `json:"valid_until,omitempty"`
}

// Invoice is a receivable.
type Invoice struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id,omitempty"`
	ClientID   string  `json:"client_id"`
	ContractID string  `json:"contract_id,omitempty"`
	Number     string  `json:"number,omitempty"`
	Amount     float64 `json:"amount"`
	DueDate    string  `json:"due_date"`
	PaidAt     *string `json:"paid_at,omitempty"`
	Status     string  `json:"status"`
}

// Task is a unit of work on the editorial or operations board.
type Task struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id,omitempty"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Priority   string `json:"priority,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	DueDate    string `json:"due_date,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// PayrollItem is one employee's pay for a period.
type PayrollItem struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Period       string  `json:"period"`
	GrossSalary  float64 `json:"gross_salary"`
	Deductions   float64 `json:"deductions"`
	NetSalary    float64 `json:"net_salary"`
	Status       string  `json:"status,omitempty"`
}

// CalendarEvent is a meeting, deadline or publication slot.
type CalendarEvent struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Kind     string `json:"kind,omitempty"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// FinancialSummary is the get_financial_summary result for one period.
type FinancialSummary struct {
	Period          string  `json:"period"`
	Revenue         float64 `json:"revenue"`
	Expenses        float64 `json:"expenses"`
	Profit          float64 `json:"profit"`
	Receivable      float64 `json:"receivable"`
	Overdue         float64 `json:"overdue"`
	PaidInvoices    int     `json:"paid_invoices"`
	PendingInvoices int     `json:"pending_invoices"`
}

// Margin returns profit as a percentage of revenue, 0 without revenue.
func (s FinancialSummary) Margin() float64 {
	if s.Revenue == 0 {
		return 0
	}
	return s.Profit / s.Revenue * 100
}

// PayrollResult is the calculate_payroll result.
type PayrollResult struct {
	Period     string  `json:"period"`
	Employees  int     `json:"employees"`
	TotalGross float64 `json:"total_gross"`
	TotalNet   float64 `json:"total_net"`
}
