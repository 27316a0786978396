package validation

// Severity — итоговая оценка тяжести найденных проблем в ответе модели.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Коды проверок. Используются и как issue_type в журнале инцидентов.
const (
	CheckFabricatedData    = "fabricated_data"
	CheckDomainBoundary    = "domain_boundary"
	CheckSecurity          = "security_violations"
	CheckCustomerIsolation = "customer_isolation"
	CheckDocumentAccuracy  = "document_accuracy"
	CheckBranchAccuracy    = "branch_accuracy"
)

// CheckResult — результат одной проверки.
type CheckResult struct {
	Type    string   `json:"type"`
	Passed  bool     `json:"passed"`
	Details []string `json:"details,omitempty"`
}

// Verdict — агрегированный результат всех проверок одного ответа.
type Verdict struct {
	Enabled         bool          `json:"validation_enabled"`
	ChecksPerformed []string      `json:"checks_performed"`
	Issues          []CheckResult `json:"issues_found"`
	Confidence      float64       `json:"confidence_score"`
	Severity        Severity      `json:"severity"`
	Valid           bool          `json:"is_valid"`
}

// HasSecurityIssue — нашлась ли проблема из категории безопасности.
// Такие категории всегда дают severity=critical, независимо от confidence.
func (v *Verdict) HasSecurityIssue() bool {
	for _, issue := range v.Issues {
		if issue.Type == CheckSecurity || issue.Type == CheckCustomerIsolation {
			return true
		}
	}
	return false
}

// PrimaryIssueType возвращает тип первой найденной проблемы
func (v *Verdict) PrimaryIssueType() string {
	if len(v.Issues) == 0 {
		return "unknown"
	}
	return v.Issues[0].Type
}
