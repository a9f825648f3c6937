package verdict

// threatTypes maps internal detection labels onto canonical categories.
// Keys are already normalized (lower-case, underscores). Never mutated.
var threatTypes = map[string]ThreatType{
	// prompt injection
	"prompt_injection":     PromptInjection,
	"injection":            PromptInjection,
	"inject":               PromptInjection,
	"instruction_override": PromptInjection,
	"role_hijacking":       PromptInjection,
	"context_manipulation": PromptInjection,
	"token_manipulation":   PromptInjection,
	"indirect_injection":   PromptInjection,
	"context_poisoning":    PromptInjection,
	"function_injection":   PromptInjection,
	"memory_injection":     PromptInjection,
	"topic_mismatch":       PromptInjection,

	// jailbreak
	"jailbreak":                Jailbreak,
	"jailbreak_attempt":        Jailbreak,
	"safety_bypass":            Jailbreak,
	"roleplay":                 Jailbreak,
	"hypothetical":             Jailbreak,
	"completion_baiting":       Jailbreak,
	"override":                 Jailbreak,
	"manipulate":               Jailbreak,
	"tonality_drift_profanity": Jailbreak,
	"tonality_drift_casual":    Jailbreak,
	"tonality_drift_hostile":   Jailbreak,

	"system_prompt_leak":       SystemPromptLeak,
	"system_prompt_extraction": SystemPromptLeak,

	"data_exfiltration":      DataExfiltration,
	"exfiltration":           DataExfiltration,
	"exfiltrate":             DataExfiltration,
	"extract":                DataExfiltration,
	"data_leak":              DataExfiltration,
	"information_disclosure": DataExfiltration,
	"credential_extraction":  DataExfiltration,

	"sql_injection":   SQLInjection,
	"sqli":            SQLInjection,
	"tautology":       SQLInjection,
	"tautology_or":    SQLInjection,
	"tautology_and":   SQLInjection,
	"union_injection": SQLInjection,
	"stacked_query":   SQLInjection,

	"path_traversal":      PathTraversal,
	"directory_traversal": PathTraversal,
	"path_violation":      PathTraversal,
	"file_access":         PathTraversal,
	"sensitive_path":      PathTraversal,
	"sensitive_extension": PathTraversal,
	"blocked_extension":   PathTraversal,

	"secrets_exposure":  SecretsExposure,
	"secrets":           SecretsExposure,
	"api_key":           SecretsExposure,
	"credential":        SecretsExposure,
	"sensitive_file":    SecretsExposure,
	"content_violation": SecretsExposure,
	"sensitive_content": SecretsExposure,
	"secret_key":        SecretsExposure,
	"aws_key":           SecretsExposure,
	"private_key":       SecretsExposure,

	"pii_exposure":           PIIExposure,
	"pii":                    PIIExposure,
	"pii_leak":               PIIExposure,
	"personal_data":          PIIExposure,
	"pii_in_search":          PIIExposure,
	"pii_extraction":         PIIExposure,
	"ssn":                    PIIExposure,
	"credit_card":            PIIExposure,
	"email_exposure":         PIIExposure,
	"phone_number":           PIIExposure,
	"unexpected_pii_leakage": PIIExposure,

	"blocked_domain":    BlockedDomain,
	"suspicious_tld":    BlockedDomain,
	"suspicious_domain": BlockedDomain,
	"malicious_url":     BlockedDomain,

	"toxicity":        Toxicity,
	"harmful_content": Toxicity,

	"malicious_content": MaliciousCode,
	"malicious_code":    MaliciousCode,
	"reverse_shell":     MaliciousCode,
	"web_shell":         MaliciousCode,
	"fork_bomb":         MaliciousCode,
	"crypto_miner":      MaliciousCode,
	"persistence":       MaliciousCode,
	"shell_injection":   MaliciousCode,

	"harmful_intent":    HarmfulIntent,
	"dangerous_request": HarmfulIntent,

	"social_engineering": SocialEngineering,
	"emotional":          SocialEngineering,
	"authority_claim":    SocialEngineering,

	"privilege_escalation":  PrivilegeEscalation,
	"destructive_operation": DestructiveOperation,

	"scan_error":          ScanError,
	"timeout":             ScanError,
	"size_limit_exceeded": SizeLimitExceeded,
	"size_limit":          SizeLimitExceeded,
}

var guidance = map[ThreatType]string{
	PromptInjection:      "This prompt contains patterns consistent with instruction override attempts.",
	Jailbreak:            "This prompt attempts to bypass safety guidelines. The request has been blocked.",
	SystemPromptLeak:     "The response contains system prompt disclosure. The response has been blocked.",
	DataExfiltration:     "This prompt may attempt to extract sensitive information.",
	SQLInjection:         "This query contains potentially dangerous SQL patterns.",
	PathTraversal:        "This file path attempts to access directories outside the allowed scope.",
	SecretsExposure:      "This content contains patterns matching API keys, tokens, or credentials.",
	PIIExposure:          "This content contains personally identifiable information.",
	BlockedDomain:        "This web search targets a restricted domain.",
	Toxicity:             "This content contains potentially harmful or inappropriate language.",
	MaliciousCode:        "This content contains patterns associated with malicious code.",
	HarmfulIntent:        "This request contains content associated with harmful intent.",
	SocialEngineering:    "This prompt contains social engineering patterns.",
	PrivilegeEscalation:  "This query attempts to escalate privileges or gain unauthorized access.",
	DestructiveOperation: "This query contains destructive operations. Review carefully.",
	ScanError:            "The security scan could not be completed. Blocked as precaution.",
	SizeLimitExceeded:    "The content exceeds the maximum allowed size.",
	Unknown:              "A security concern was detected. Please review the content.",
}

var defaultSeverity = map[ThreatType]Severity{
	PromptInjection:      SeverityHigh,
	Jailbreak:            SeverityHigh,
	SystemPromptLeak:     SeverityHigh,
	DataExfiltration:     SeverityHigh,
	SQLInjection:         SeverityCritical,
	PathTraversal:        SeverityHigh,
	SecretsExposure:      SeverityCritical,
	PIIExposure:          SeverityHigh,
	BlockedDomain:        SeverityMedium,
	Toxicity:             SeverityMedium,
	MaliciousCode:        SeverityCritical,
	HarmfulIntent:        SeverityHigh,
	SocialEngineering:    SeverityMedium,
	PrivilegeEscalation:  SeverityCritical,
	DestructiveOperation: SeverityCritical,
	ScanError:            SeverityMedium,
	SizeLimitExceeded:    SeverityLow,
	Unknown:              SeverityMedium,
}

// internalFields expose detection methodology and must never leave the SDK.
var internalFields = map[string]struct{}{
	"detected_by":         {},
	"policy_id":           {},
	"policy_name":         {},
	"matched_pattern":     {},
	"matched_text":        {},
	"pattern":             {},
	"scan_stage":          {},
	"ai_reasoning":        {},
	"llm_analysis":        {},
	"performance_metrics": {},
	"performance":         {},
}

// externalFields is the complete set of keys a sanitized verdict may carry.
var externalFields = map[string]struct{}{
	"safe":        {},
	"threat_type": {},
	"severity":    {},
	"confidence":  {},
	"reason":      {},
	"guidance":    {},
}
