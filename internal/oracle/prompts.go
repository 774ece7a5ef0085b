package oracle

import (
	"fmt"
	"strings"
)

// ExistencePrompt asks for a name-based existence opinion. The expected
// answer is {"exists", "reason", "industry"}.
func ExistencePrompt(company string, domains []string) string {
	domainInfo := "without any provided domains"
	if len(domains) > 0 {
		domainInfo = "with domains: " + strings.Join(domains, ", ")
	}
	return fmt.Sprintf(`Analyze if the company %q exists %s.

Look for these aspects:
1. Company existence verification
2. Industry identification
3. Business legitimacy assessment

Respond in this exact JSON format:
{
    "exists": "Yes/No/Unclear",
    "reason": "Brief explanation of your conclusion",
    "industry": "Industry name if known, or null"
}`, company, domainInfo)
}

// RelevancePrompt asks whether domain belongs to company. The expected answer
// is {"is_related", "confidence", "relationship_type", "warning", "reason",
// "risk_level"}.
func RelevancePrompt(domain, company string) string {
	return fmt.Sprintf(`Assess whether the website domain %q is operated by, or officially
associated with, the company %q.

Consider brand names, parent companies, subsidiaries, abbreviations and common
typosquatting or phishing patterns.

Respond in this exact JSON format:
{
    "is_related": true or false,
    "confidence": "high/medium/low",
    "relationship_type": "direct/brand/subsidiary/unrelated",
    "warning": "What the user should do if the domain is not legitimate, or null",
    "reason": "Brief explanation of your conclusion",
    "risk_level": "high/medium/low"
}`, domain, company)
}
