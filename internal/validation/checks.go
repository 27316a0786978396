package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// checkFabricatedData ищет в ответе факты, которых нет в данных инструментов.
// Без данных инструментов сверять не с чем — проверка проходит.
func (e *Engine) checkFabricatedData(toolResults map[string]any, modelResponse string) CheckResult {
	if len(toolResults) == 0 {
		return CheckResult{Type: CheckFabricatedData, Passed: true}
	}

	toolData := marshalLower(toolResults)
	responseLower := strings.ToLower(modelResponse)

	var details []string

	// Выдуманные требования к документам
	for _, pattern := range fabricatedDocPatterns {
		if strings.Contains(responseLower, pattern) && !strings.Contains(toolData, pattern) {
			details = append(details, fmt.Sprintf("mentioned %q not in tool results", pattern))
		}
	}

	// Упомянутые комиссии должны присутствовать в данных инструментов
	if strings.Contains(responseLower, "fee") {
		for _, re := range feePatterns {
			for _, match := range re.FindAllString(responseLower, -1) {
				if !strings.Contains(toolData, match) {
					details = append(details, fmt.Sprintf("mentioned fee %q not in tool results", match))
				}
			}
		}
	}

	return CheckResult{Type: CheckFabricatedData, Passed: len(details) == 0, Details: details}
}

// checkDomainBoundary следит, чтобы ответ не ушёл за границы обслуживаемых тем
func (e *Engine) checkDomainBoundary(modelResponse string) CheckResult {
	responseLower := strings.ToLower(modelResponse)

	var details []string
	for _, phrase := range offTopicPhrases {
		if strings.Contains(responseLower, phrase) {
			details = append(details, phrase)
		}
	}

	return CheckResult{Type: CheckDomainBoundary, Passed: len(details) == 0, Details: details}
}

// checkSecurityViolations ловит раскрытие внутреннего устройства системы
func (e *Engine) checkSecurityViolations(modelResponse string) CheckResult {
	responseLower := strings.ToLower(modelResponse)

	var details []string
	for _, phrase := range internalPhrases {
		if strings.Contains(responseLower, phrase) {
			details = append(details, fmt.Sprintf("internal phrase: %q", phrase))
		}
	}

	return CheckResult{Type: CheckSecurity, Passed: len(details) == 0, Details: details}
}

// checkCustomerIsolation ищет признаки утечки данных других клиентов.
// Индикатор, присутствующий в самом вопросе пользователя, нарушением не
// считается: клиент вправе спрашивать про свой account number.
func (e *Engine) checkCustomerIsolation(userQuery, modelResponse string) CheckResult {
	responseLower := strings.ToLower(modelResponse)
	queryLower := strings.ToLower(userQuery)

	var details []string

	for _, indicator := range leakIndicators {
		if strings.Contains(responseLower, indicator) && !strings.Contains(queryLower, indicator) {
			details = append(details, fmt.Sprintf("customer data reference: %q", indicator))
		}
	}

	if accountNumberRe.MatchString(responseLower) {
		details = append(details, "potential account number disclosed")
	}
	if sortCodeRe.MatchString(responseLower) {
		details = append(details, "potential sort code disclosed")
	}

	// Имена людей, которых не было в вопросе. Банковские термины вида
	// "Savings Account" и имя персоны бота — не нарушение.
	queryNames := make(map[string]struct{})
	for _, name := range personNameRe.FindAllString(userQuery, -1) {
		queryNames[name] = struct{}{}
	}
	for _, name := range personNameRe.FindAllString(modelResponse, -1) {
		if _, inQuery := queryNames[name]; inQuery {
			continue
		}
		if _, allowed := bankingTermAllowList[name]; allowed {
			continue
		}
		if name == e.persona {
			continue
		}
		details = append(details, fmt.Sprintf("unauthorized name reference: %q", name))
	}

	return CheckResult{Type: CheckCustomerIsolation, Passed: len(details) == 0, Details: details}
}

// checkDocumentAccuracy сверяет названные документы со списком из данных
// инструментов. Запускается только при наличии ключа documents_required.
func (e *Engine) checkDocumentAccuracy(toolResults map[string]any, modelResponse string) CheckResult {
	docs := extractStringList(toolResults, "documents_required")
	if len(docs) == 0 {
		return CheckResult{Type: CheckDocumentAccuracy, Passed: true}
	}

	responseLower := strings.ToLower(modelResponse)

	var details []string
	for _, docType := range knownDocTypes {
		if !strings.Contains(responseLower, docType) {
			continue
		}
		found := false
		for _, doc := range docs {
			if strings.Contains(strings.ToLower(doc), docType) {
				found = true
				break
			}
		}
		if !found {
			details = append(details, fmt.Sprintf("%q mentioned but not in tool results", docType))
		}
	}

	return CheckResult{Type: CheckDocumentAccuracy, Passed: len(details) == 0, Details: details}
}

// checkBranchAccuracy сверяет телефоны и индексы отделений с данными
// инструментов. Запускается только при наличии ключа branches.
func (e *Engine) checkBranchAccuracy(toolResults map[string]any, modelResponse string) CheckResult {
	toolData := marshalRaw(toolResults)

	var details []string

	for _, phone := range phoneRe.FindAllString(modelResponse, -1) {
		if !strings.Contains(toolData, phone) {
			details = append(details, fmt.Sprintf("phone number %q not in tool results", phone))
		}
	}
	for _, postcode := range postcodeRe.FindAllString(modelResponse, -1) {
		if !strings.Contains(toolData, postcode) {
			details = append(details, fmt.Sprintf("postcode %q not in tool results", postcode))
		}
	}

	return CheckResult{Type: CheckBranchAccuracy, Passed: len(details) == 0, Details: details}
}

func marshalRaw(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalLower(data map[string]any) string {
	return strings.ToLower(marshalRaw(data))
}

// extractStringList достаёт список строк по ключу верхнего уровня
func extractStringList(data map[string]any, key string) []string {
	raw, ok := data[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
