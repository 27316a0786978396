package validation

import "regexp"

/*
Файл rules.go — декларативные таблицы правил. Проверки в checks.go только
итерируются по этим таблицам, поэтому пополнение словарей не требует
изменения логики.
*/

// Штрафные множители confidence по типам проверок
const (
	penaltyFabricated = 0.5
	penaltyDomain     = 0.7
	penaltySecurity   = 0.1 // жёсткий штраф: раскрытие внутренностей системы
	penaltyIsolation  = 0.1 // жёсткий штраф: утечка данных другого клиента
	penaltyDocuments  = 0.6
	penaltyBranches   = 0.6
)

// Пороги severity по итоговому confidence
const (
	thresholdHigh   = 0.3
	thresholdMedium = 0.6
)

// Документы, которые модель любит выдумывать. Упоминание в ответе без
// подтверждения в данных инструментов — признак фабрикации.
var fabricatedDocPatterns = []string{
	"proof of income", "employment letter", "tax returns", "credit check",
	"reference letter", "guarantor", "co-signer",
}

// Маркеры упоминания комиссий и стоимости
var feePatterns = []*regexp.Regexp{
	regexp.MustCompile(`£\d+`),
	regexp.MustCompile(`fee of`),
	regexp.MustCompile(`charge of`),
	regexp.MustCompile(`cost of`),
}

// Темы вне зоны обслуживания. Только многословные фразы, чтобы не ловить
// ложные срабатывания на отдельных словах вроде "card".
var offTopicPhrases = []string{
	"mortgage application", "mortgage advice", "apply for a mortgage",
	"loan application", "personal loan", "business loan",
	"credit card application", "apply for credit card", "new credit card",
	"investment advice", "invest in stocks", "stock market",
	"insurance policy", "insurance claim", "life insurance",
	"pension plan", "retirement pension",
	"cryptocurrency", "bitcoin", "ethereum",
	"forex trading", "currency trading", "day trading",
}

// Фразы, указывающие на раскрытие внутреннего устройства системы
var internalPhrases = []string{
	"system prompt", "internal working", "language model", "model provider",
	"backend service", "tool definition", "validation pipeline",
	"api endpoint", "database table", "server logs",
	"code implementation", "json schema", "system architecture",
	"how i work", "how i am configured", "my instructions",
	"my system prompt", "my internal", "my code", "my architecture",
}

// Индикаторы утечки данных других клиентов
var leakIndicators = []string{
	"other customer", "another customer", "previous customer", "different customer",
	"customer john", "customer mary", "customer smith",
	"mr. john", "mrs. smith", "ms. jones",
	"account number is", "your account number is", "their account number",
	"sort code is", "their sort code", "balance is £",
	"transaction history shows", "recent transactions include",
	"other account holder", "different account holder",
	"someone else's account", "another person account",
}

// Паттерны утечки реквизитов
var (
	accountNumberRe = regexp.MustCompile(`account number[:\s]+\d{8}\b`)
	sortCodeRe      = regexp.MustCompile(`sort code[:\s]+\d{2}-\d{2}-\d{2}\b`)

	// "Имя Фамилия" с заглавных букв
	personNameRe = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)

	// Телефоны и почтовые индексы UK для сверки данных об отделениях
	phoneRe    = regexp.MustCompile(`\d{3,4}\s?\d{3,4}\s?\d{4}`)
	postcodeRe = regexp.MustCompile(`[A-Z]{1,2}\d{1,2}\s?\d[A-Z]{2}`)
)

// Типы документов для сверки с данными инструментов
var knownDocTypes = []string{
	"passport", "driving licence", "photo id", "proof of address",
	"utility bill", "bank statement", "national insurance",
	"student id", "acceptance letter", "business registration",
}

// Банковские термины, которые выглядят как имена ("Имя Фамилия"), но ими
// не являются. Имя персоны бота добавляется сюда динамически из конфига.
var bankingTermAllowList = map[string]struct{}{
	"Account Opening": {}, "Open Account": {}, "Debit Card": {}, "Customer Service": {},
	"Branch Opening": {}, "Digital Opening": {}, "Mobile Banking": {},
	"National Insurance": {}, "Insurance Number": {}, "Your National": {}, "Photo Id": {},
	"Government Issued": {}, "Proof Address": {}, "Initial Deposit": {},
	"Business Hours": {}, "Working Days": {}, "Mobile App": {},
	"Bank Transfer": {}, "Video Verification": {}, "Biometric Verification": {},
	"Mobile Device": {}, "Physical Card": {}, "Instant Access": {},
	"Digital Access": {}, "Mobile Number": {}, "Banking Specialist": {},
	"Utility Bill": {}, "Bank Statement": {}, "Checking Account": {}, "Savings Account": {},
	"Required Documents": {}, "Account Types": {}, "Student Account": {}, "Business Account": {},
	"Online Banking": {}, "Digital Process": {}, "Branch Location": {},
	"Application Form": {}, "Account Details": {}, "Debit Card Options": {},
	"For Branch": {}, "For Digital": {}, "Compared To": {},
}
