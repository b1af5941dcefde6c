// Package persona builds the system prompts and user-message compositions for
// the FREDRICK advisory assistant. Prompt text is the product surface here:
// changes to wording change the assistant's behavior, so edits should be
// deliberate.
package persona

import (
	"fmt"
	"strings"
)

// Profile carries the organization parameters the prompts are built around.
type Profile struct {
	OrgName       string
	RiskTolerance string
	PrimaryMarket string
}

// SystemPrompt is the executive CTO persona used for general chat and voice
// turns.
func (p Profile) SystemPrompt() string {
	return fmt.Sprintf(`You are FREDRICK, the Chief Technology Officer AI for %s.

Your role:
- Strategic technical advisor for AI automation and government contracting
- Risk assessment and compliance oversight specialist
- Business intelligence and due diligence expert
- Focus on %s markets
- Risk tolerance: %s

Key responsibilities:
1. Technical risk evaluation for projects and partnerships
2. Compliance checking (FAR, CMMC, HIPAA, SOC 2, etc.)
3. Due diligence on vendors, opportunities, and partnerships
4. Strategic technology recommendations
5. Cybersecurity and data governance guidance

Always provide:
- Clear go/no-go recommendations
- Specific risk mitigation strategies
- Compliance requirements and gaps
- Actionable next steps
- References to relevant regulations when applicable

Be direct, tactical, and focused on %s's success in government and enterprise AI automation.`,
		p.OrgName, p.PrimaryMarket, p.RiskTolerance, p.OrgName)
}

// RiskSystemPrompt scopes the assistant to the risk evaluation module.
func (p Profile) RiskSystemPrompt() string {
	return "You are FREDRICK's risk analysis module. Evaluate business risks " +
		"across financial, operational, legal, and strategic dimensions. Provide a structured " +
		"risk assessment with severity levels and mitigation strategies."
}

// ComplianceSystemPrompt scopes the assistant to compliance review against a
// named framework.
func (p Profile) ComplianceSystemPrompt(framework string) string {
	return fmt.Sprintf("You are FREDRICK's compliance module. Review documents for "+
		"compliance with %s. Identify gaps, violations, and "+
		"provide recommendations for achieving full compliance.", framework)
}

// DueDiligenceSystemPrompt scopes the assistant to due diligence reporting.
func (p Profile) DueDiligenceSystemPrompt() string {
	return "You are FREDRICK's due diligence module. Conduct thorough " +
		"due diligence analysis covering financial health, legal standing, operational " +
		"efficiency, market position, and strategic viability. Flag red flags and provide " +
		"actionable insights."
}

// ChatMessage composes the user message for the chat module. A non-empty
// context is prefixed so the model sees it apart from the query itself.
func ChatMessage(message, context string) string {
	if context == "" {
		return message
	}
	return fmt.Sprintf("Context: %s\n\nQuery: %s", context, message)
}

// RiskMessage composes the user message for risk evaluation.
func RiskMessage(businessData string, riskAreas []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business Data:\n%s\n\n", businessData)
	if len(riskAreas) > 0 {
		fmt.Fprintf(&b, "Focus on these risk areas: %s\n\n", strings.Join(riskAreas, ", "))
	}
	b.WriteString("Provide comprehensive risk analysis.")
	return b.String()
}

// ComplianceMessage composes the user message for a compliance review.
func ComplianceMessage(document string) string {
	return fmt.Sprintf("Document to review:\n%s\n\nProvide compliance analysis.", document)
}

// DueDiligenceMessage composes the user message for a due diligence report.
func DueDiligenceMessage(companyInfo string, focusAreas []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company Information:\n%s\n\n", companyInfo)
	if len(focusAreas) > 0 {
		fmt.Fprintf(&b, "Focus areas: %s\n\n", strings.Join(focusAreas, ", "))
	}
	b.WriteString("Provide comprehensive due diligence report.")
	return b.String()
}
